package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// RunStore persists research runs and their sections. The workflow is the
// single writer; the HTTP layer only reads.
type RunStore struct {
	client *Client
	logger *zap.Logger
}

func NewRunStore(client *Client, logger *zap.Logger) *RunStore {
	return &RunStore{client: client, logger: logger}
}

// CreateRun inserts a new run in the initializing state together with its
// frozen config snapshot.
func (s *RunStore) CreateRun(ctx context.Context, id, userID, topic string, cfg config.RunConfig) error {
	cfgJSON, err := toJSONB(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}
	var user *string
	if userID != "" {
		user = &userID
	}
	_, err = s.client.db.ExecContext(ctx,
		`INSERT INTO research_runs (id, user_id, topic, status, progress, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW())`,
		id, user, topic, string(run.StatusInitializing), cfgJSON)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateStatus transitions a run. Progress only moves forward: GREATEST
// keeps the stored value when a stale writer reports less.
func (s *RunStore) UpdateStatus(ctx context.Context, id string, status run.Status, progress float64, errorMessage string) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	res, err := s.client.db.ExecContext(ctx,
		`UPDATE research_runs
		 SET status = $2,
		     progress = GREATEST(progress, $3),
		     error_message = COALESCE($4, error_message),
		     completed_at = COALESCE($5, completed_at),
		     updated_at = NOW()
		 WHERE id = $1`,
		id, string(status), progress, errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return s.requireRow(res)
}

// SavePlan replaces the stored plan and resets the section rows. Called on
// the initial plan and on every feedback revision.
func (s *RunStore) SavePlan(ctx context.Context, id string, plan run.ReportPlan) error {
	planJSON, err := toJSONB(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	tx, err := s.client.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin plan transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE research_runs SET plan = $2, updated_at = NOW() WHERE id = $1`,
		id, planJSON)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	if err := s.requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM research_sections WHERE run_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear sections: %w", err)
	}
	for i, section := range plan.Sections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO research_sections (run_id, position, name, description, status, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())`,
			id, i, section.Name, section.Description, string(run.SectionPending)); err != nil {
			return fmt.Errorf("failed to insert section %q: %w", section.Name, err)
		}
	}
	return tx.Commit()
}

// UpdateSectionStatus marks one section's research state.
func (s *RunStore) UpdateSectionStatus(ctx context.Context, id, sectionName string, status run.SectionStatus) error {
	res, err := s.client.db.ExecContext(ctx,
		`UPDATE research_sections SET status = $3, updated_at = NOW()
		 WHERE run_id = $1 AND name = $2`,
		id, sectionName, string(status))
	if err != nil {
		return fmt.Errorf("failed to update section status: %w", err)
	}
	return s.requireRow(res)
}

// CompleteSection stores the finished content and citations for one section
// and advances the run's progress fraction.
func (s *RunStore) CompleteSection(ctx context.Context, id string, result run.SectionResult, progress float64) error {
	tx, err := s.client.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin section transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE research_sections
		 SET status = $3, content = $4, citations = $5, completed_at = NOW(), updated_at = NOW()
		 WHERE run_id = $1 AND name = $2`,
		id, result.Name, string(run.SectionCompleted), result.Content, CitationList(result.Citations))
	if err != nil {
		return fmt.Errorf("failed to complete section: %w", err)
	}
	if err := s.requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE research_runs SET progress = GREATEST(progress, $2), updated_at = NOW() WHERE id = $1`,
		id, progress); err != nil {
		return fmt.Errorf("failed to advance progress: %w", err)
	}
	return tx.Commit()
}

// SaveFinalReport stores the assembled report and completes the run.
func (s *RunStore) SaveFinalReport(ctx context.Context, id, report string) error {
	res, err := s.client.db.ExecContext(ctx,
		`UPDATE research_runs
		 SET status = $2, final_report = $3, progress = 1.0, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id, string(run.StatusCompleted), report)
	if err != nil {
		return fmt.Errorf("failed to save final report: %w", err)
	}
	return s.requireRow(res)
}

// GetRun loads a run with its completed-section names.
func (s *RunStore) GetRun(ctx context.Context, id string) (*run.ResearchRun, error) {
	var rec RunRecord
	err := s.client.db.GetContext(ctx, &rec,
		`SELECT id, user_id, topic, status, progress, plan, config, final_report,
		        error_message, created_at, updated_at, completed_at
		 FROM research_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, run.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var completed []string
	if err := s.client.db.SelectContext(ctx, &completed,
		`SELECT name FROM research_sections
		 WHERE run_id = $1 AND status = $2
		 ORDER BY position`,
		id, string(run.SectionCompleted)); err != nil {
		return nil, fmt.Errorf("failed to load completed sections: %w", err)
	}
	return recordToRun(rec, completed)
}

// GetSections returns a run's sections in plan order.
func (s *RunStore) GetSections(ctx context.Context, id string) ([]SectionRecord, error) {
	var rows []SectionRecord
	err := s.client.db.SelectContext(ctx, &rows,
		`SELECT run_id, position, name, description, status, content, citations, updated_at, completed_at
		 FROM research_sections WHERE run_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}
	return rows, nil
}

// SectionResults returns the completed sections in plan order, regardless
// of the order they finished in.
func (s *RunStore) SectionResults(ctx context.Context, id string) ([]run.SectionResult, error) {
	rows, err := s.GetSections(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]run.SectionResult, 0, len(rows))
	for _, row := range rows {
		if row.Status != string(run.SectionCompleted) || row.Content == nil {
			continue
		}
		out = append(out, run.SectionResult{
			Name:      row.Name,
			Content:   *row.Content,
			Citations: []run.Citation(row.Citations),
		})
	}
	return out, nil
}

// ListRuns returns runs newest first, optionally filtered by user.
func (s *RunStore) ListRuns(ctx context.Context, userID string, limit, offset int) ([]run.ResearchRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT id, user_id, topic, status, progress, plan, config, final_report,
	                 error_message, created_at, updated_at, completed_at
	          FROM research_runs`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, userID, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	var recs []RunRecord
	if err := s.client.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]run.ResearchRun, 0, len(recs))
	for _, rec := range recs {
		r, err := recordToRun(rec, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// DeleteRun removes a run and, via cascade, its sections.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.client.db.ExecContext(ctx,
		`DELETE FROM research_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return s.requireRow(res)
}

func (s *RunStore) requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return run.ErrNotFound
	}
	return nil
}

func toJSONB(v interface{}) (JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func recordToRun(rec RunRecord, completed []string) (*run.ResearchRun, error) {
	r := &run.ResearchRun{
		ID:                rec.ID,
		Topic:             rec.Topic,
		Status:            run.Status(rec.Status),
		Progress:          rec.Progress,
		CompletedSections: completed,
		CreatedAt:         rec.CreatedAt,
		CompletedAt:       rec.CompletedAt,
	}
	if rec.UserID != nil {
		r.UserID = *rec.UserID
	}
	if rec.FinalReport != nil {
		r.FinalReport = *rec.FinalReport
	}
	if rec.ErrorMessage != nil {
		r.ErrorMessage = *rec.ErrorMessage
	}
	if rec.Plan != nil {
		raw, err := json.Marshal(rec.Plan)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encode plan: %w", err)
		}
		var plan run.ReportPlan
		if err := json.Unmarshal(raw, &plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan: %w", err)
		}
		r.Plan = &plan
	}
	return r, nil
}
