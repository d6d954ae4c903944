package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/circuitbreaker"
	"github.com/openreport-ai/orchestrator/internal/run"
)

// Phase is the feedback gate's view of a run. The workflow owns the real
// state machine; this is a fast-read projection for the HTTP layer so a
// feedback submission can be rejected without a workflow query.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseProcessing Phase = "processing"
)

// State is the gate record for one run, stored as a Redis hash so the
// phase can be flipped without rewriting the plan payload.
type State struct {
	RunID     string          `json:"run_id"`
	Phase     Phase           `json:"phase"`
	Round     int             `json:"round"`
	Plan      *run.ReportPlan `json:"plan,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store keeps gate state in Redis with a TTL safety net: a run that never
// resolves its gate eventually stops accepting feedback. Redis calls go
// through a circuit breaker so a dead Redis fails fast instead of stalling
// feedback submissions.
type Store struct {
	client *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

const defaultTTL = 24 * time.Hour

func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: circuitbreaker.NewRedisWrapper(client, logger),
		ttl:    defaultTTL,
		logger: logger,
	}
}

func key(runID string) string {
	return fmt.Sprintf("research:gate:%s", runID)
}

// Open records that a run is waiting for plan feedback.
func (s *Store) Open(ctx context.Context, runID string, round int, plan *run.ReportPlan) error {
	planRaw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode gate plan: %w", err)
	}
	k := key(runID)
	if err := s.client.HSet(ctx, k,
		"run_id", runID,
		"phase", string(PhaseWaiting),
		"round", round,
		"plan", planRaw,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("failed to open feedback gate: %w", err)
	}
	if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set feedback gate expiry: %w", err)
	}
	s.logger.Debug("Feedback gate opened",
		zap.String("run_id", runID),
		zap.Int("round", round))
	return nil
}

// markProcessingScript flips the phase only if the gate is still in the
// expected phase. 1 = flipped, 0 = no gate, -1 = wrong phase.
var markProcessingScript = redis.NewScript(`
local phase = redis.call("HGET", KEYS[1], "phase")
if not phase then
  return 0
end
if phase ~= ARGV[1] then
  return -1
end
redis.call("HSET", KEYS[1], "phase", ARGV[2], "updated_at", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// MarkProcessing flips the gate waiting→processing. The check and the
// write run as one server-side script, so of two concurrent submissions
// for the same round exactly one wins.
func (s *Store) MarkProcessing(ctx context.Context, runID string) error {
	res, err := s.client.ScriptRun(ctx, markProcessingScript, []string{key(runID)},
		string(PhaseWaiting), string(PhaseProcessing),
		time.Now().UTC().Format(time.RFC3339Nano), s.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to update feedback gate: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrGateClosed
	default:
		return &run.InvalidStateError{
			Op:       "submit feedback",
			Current:  run.StatusProcessingFeedback,
			Required: run.StatusWaitingForFeedback,
		}
	}
}

// Close removes the gate once the run moves past feedback.
func (s *Store) Close(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, key(runID)).Err(); err != nil {
		return fmt.Errorf("failed to close feedback gate: %w", err)
	}
	return nil
}

// ErrGateClosed means no gate record exists: the run is not waiting for
// feedback. Callers map it onto an InvalidStateError with the run's actual
// status.
var ErrGateClosed = errors.New("feedback gate is closed")

// Get loads the gate state. A missing key means the run is not waiting for
// feedback.
func (s *Store) Get(ctx context.Context, runID string) (*State, error) {
	fields, err := s.client.HGetAll(ctx, key(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback gate: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrGateClosed
	}
	state := State{RunID: fields["run_id"], Phase: Phase(fields["phase"])}
	if v := fields["round"]; v != "" {
		state.Round, _ = strconv.Atoi(v)
	}
	if v := fields["updated_at"]; v != "" {
		state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if raw := fields["plan"]; raw != "" && raw != "null" {
		var plan run.ReportPlan
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			return nil, fmt.Errorf("failed to decode gate plan: %w", err)
		}
		state.Plan = &plan
	}
	return &state, nil
}

// Waiting reports whether the run currently accepts feedback.
func (s *Store) Waiting(ctx context.Context, runID string) bool {
	state, err := s.Get(ctx, runID)
	return err == nil && state.Phase == PhaseWaiting
}
