package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// Index is a SQLite FTS5 full-text index over locally stored documents.
// The index is rebuilt from the document directory; it is a cache, not a
// source of truth.
type Index struct {
	db   *sqlx.DB
	path string
}

func OpenIndex(path string) (*Index, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local index %s: %w", path, err)
	}
	return &Index{db: db, path: path}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

func (ix *Index) CreateSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_path TEXT,
			title TEXT,
			content TEXT,
			chunk_id TEXT
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			title,
			content,
			file_path UNINDEXED,
			chunk_id UNINDEXED,
			content='documents',
			content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO documents_fts(rowid, title, content, file_path, chunk_id)
			VALUES (new.id, new.title, new.content, new.file_path, new.chunk_id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO documents_fts(documents_fts, rowid, title, content, file_path, chunk_id)
			VALUES('delete', old.id, old.title, old.content, old.file_path, old.chunk_id);
		END`,
	}
	for _, s := range stmts {
		if _, err := ix.db.Exec(s); err != nil {
			return fmt.Errorf("failed to create index schema: %w", err)
		}
	}
	return nil
}

// DocumentChunk is one indexed slice of a source file.
type DocumentChunk struct {
	FilePath string `db:"file_path"`
	Title    string `db:"title"`
	Content  string `db:"content"`
	ChunkID  string `db:"chunk_id"`
}

func (ix *Index) InsertChunks(chunks []DocumentChunk) error {
	tx, err := ix.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if _, err := tx.Exec(
			`INSERT INTO documents (file_path, title, content, chunk_id) VALUES (?, ?, ?, ?)`,
			c.FilePath, c.Title, c.Content, c.ChunkID,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

// Search runs an FTS match ranked by relevance. The query is quoted so
// user text cannot inject FTS operators.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]DocumentChunk, error) {
	quoted := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	var rows []DocumentChunk
	err := ix.db.SelectContext(ctx, &rows,
		`SELECT file_path, title, content, chunk_id
		 FROM documents_fts
		 WHERE documents_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		quoted, limit)
	if err != nil {
		return nil, fmt.Errorf("local index search failed: %w", err)
	}
	return rows, nil
}

// Stats reports chunk and file counts, used by the documents listing API.
func (ix *Index) Stats() (chunks, files int, err error) {
	if err = ix.db.Get(&chunks, `SELECT COUNT(*) FROM documents`); err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err = ix.db.Get(&files, `SELECT COUNT(DISTINCT file_path) FROM documents`); err != nil {
		return 0, 0, fmt.Errorf("failed to count files: %w", err)
	}
	return chunks, files, nil
}

// Files returns the distinct indexed file paths.
func (ix *Index) Files() ([]string, error) {
	var paths []string
	if err := ix.db.Select(&paths, `SELECT DISTINCT file_path FROM documents ORDER BY file_path`); err != nil {
		return nil, fmt.Errorf("failed to list indexed files: %w", err)
	}
	return paths, nil
}

var indexableExtensions = map[string]struct{}{
	".txt": {},
	".md":  {},
	".csv": {},
}

// BuildIndex rebuilds the FTS database from the documents under dir. When
// enabledFiles is non-empty only those file names are indexed. The previous
// index file is replaced.
func BuildIndex(dir, dbPath string, chunkSize, chunkOverlap int, enabledFiles []string, logger *zap.Logger) (*Index, error) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 200
	}

	os.Remove(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	ix, err := OpenIndex(dbPath)
	if err != nil {
		return nil, err
	}
	if err := ix.CreateSchema(); err != nil {
		ix.Close()
		return nil, err
	}

	enabled := make(map[string]struct{}, len(enabledFiles))
	for _, name := range enabledFiles {
		enabled[name] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		ix.Close()
		return nil, fmt.Errorf("failed to read document directory %s: %w", dir, err)
	}

	var chunks []DocumentChunk
	indexedFiles := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := indexableExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		if len(enabled) > 0 {
			if _, ok := enabled[name]; !ok {
				continue
			}
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("Skipping unreadable document", zap.String("file", name), zap.Error(err))
			continue
		}
		parts := chunkText(string(data), chunkSize, chunkOverlap)
		for i, part := range parts {
			chunks = append(chunks, DocumentChunk{
				FilePath: name,
				Title:    fmt.Sprintf("%s (chunk %d/%d)", name, i+1, len(parts)),
				Content:  part,
				ChunkID:  fmt.Sprintf("%s_%d", name, i),
			})
		}
		indexedFiles++
	}

	if len(chunks) > 0 {
		if err := ix.InsertChunks(chunks); err != nil {
			ix.Close()
			return nil, err
		}
	}
	logger.Info("Local document index built",
		zap.String("path", dbPath),
		zap.Int("files", indexedFiles),
		zap.Int("chunks", len(chunks)))
	return ix, nil
}

// chunkText splits text on rune boundaries into overlapping windows,
// preferring to break at paragraph or line boundaries near the window end.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}
	var out []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := runes[start:end]
		if end < len(runes) {
			if cut := lastBreak(window); cut > step {
				window = window[:cut]
			}
		}
		out = append(out, strings.TrimSpace(string(window)))
		if end == len(runes) {
			break
		}
	}
	return out
}

func lastBreak(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' {
			return i
		}
	}
	return -1
}

// LocalProvider serves searches from the FTS index.
type LocalProvider struct {
	index  *Index
	logger *zap.Logger
}

func NewLocalProvider(index *Index, logger *zap.Logger) *LocalProvider {
	return &LocalProvider{index: index, logger: logger}
}

func (p *LocalProvider) Kind() run.ProviderKind { return run.ProviderLocal }

func (p *LocalProvider) Search(ctx context.Context, query string, settings config.SearchSettings) ([]run.SearchFinding, error) {
	if p.index == nil {
		return nil, &run.ProviderError{
			Provider: string(run.ProviderLocal),
			Cause:    fmt.Errorf("local document index is not configured"),
		}
	}
	topK := settings.Local.TopK
	if topK <= 0 {
		topK = config.DefaultLocalTopK
	}

	rows, err := p.index.Search(ctx, query, topK)
	if err != nil {
		return nil, &run.ProviderError{Provider: string(run.ProviderLocal), Cause: err}
	}
	findings := make([]run.SearchFinding, 0, len(rows))
	for _, row := range rows {
		findings = append(findings, run.SearchFinding{
			SourceID: row.ChunkID,
			Title:    row.Title,
			URL:      row.FilePath,
			Content:  row.Content,
			Provider: run.ProviderLocal,
			Score:    1.0,
		})
	}
	p.logger.Debug("Local search completed",
		zap.String("query", query),
		zap.Int("results", len(rows)))
	return findings, nil
}
