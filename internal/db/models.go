package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openreport-ai/orchestrator/internal/run"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// CitationList stores section citations as a jsonb array.
type CitationList []run.Citation

func (c CitationList) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *CitationList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into CitationList", value)
	}
	return json.Unmarshal(bytes, c)
}

// RunRecord is the research_runs row.
type RunRecord struct {
	ID           string     `db:"id"`
	UserID       *string    `db:"user_id"`
	Topic        string     `db:"topic"`
	Status       string     `db:"status"`
	Progress     float64    `db:"progress"`
	Plan         JSONB      `db:"plan"`
	Config       JSONB      `db:"config"`
	FinalReport  *string    `db:"final_report"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// SectionRecord is the research_sections row. Position preserves plan order
// so the final report can be assembled regardless of completion order.
type SectionRecord struct {
	RunID       string       `db:"run_id"`
	Position    int          `db:"position"`
	Name        string       `db:"name"`
	Description string       `db:"description"`
	Status      string       `db:"status"`
	Content     *string      `db:"content"`
	Citations   CitationList `db:"citations"`
	UpdatedAt   time.Time    `db:"updated_at"`
	CompletedAt *time.Time   `db:"completed_at"`
}
