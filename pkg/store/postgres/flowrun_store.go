package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flowtalk/engine/pkg/flowrun"
)

// RunStore implements flowrun.Store against the flow_runs / flow_run_steps
// tables (spec §6.3: "Flow runs & steps: durable store, append-only for
// steps; runs updated in place"). The at-most-one-active-run invariant
// (spec §3.1, §8.1 property 2) is additionally enforced by a partial
// unique index in the migration, so a racing Create/Update that would
// violate it fails at the database rather than silently double-booking a
// session.
type RunStore struct {
	Client *Client
}

// NewRunStore builds a RunStore.
func NewRunStore(client *Client) *RunStore { return &RunStore{Client: client} }

var _ flowrun.Store = (*RunStore)(nil)

// ErrActiveRunExists is returned when Create or Update would violate the
// at-most-one-active-run-per-session invariant.
var ErrActiveRunExists = errors.New("postgres: session already has an active run")

func (s *RunStore) Create(ctx context.Context, run *flowrun.FlowRun) error {
	ctxBody, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("encode run context %s: %w", run.RunID, err)
	}

	_, err = s.Client.Pool.Exec(ctx, `
		INSERT INTO flow_runs (run_id, flow_id, flow_version, session_id, current_state, status, context, started_at, updated_at, completed_at, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, run.RunID, run.FlowID, run.FlowVersion, run.SessionID, run.CurrentState, string(run.Status), ctxBody,
		run.StartedAt, run.UpdatedAt, run.CompletedAt, run.Progress)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create run %s: %w", run.RunID, ErrActiveRunExists)
		}
		return fmt.Errorf("create run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, runID string) (*flowrun.FlowRun, error) {
	row := s.Client.Pool.QueryRow(ctx, `
		SELECT run_id, flow_id, flow_version, session_id, current_state, status, context, started_at, updated_at, completed_at, progress
		FROM flow_runs WHERE run_id = $1
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", runID, flowrun.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

func (s *RunStore) GetActiveBySession(ctx context.Context, sessionID string) (*flowrun.FlowRun, error) {
	row := s.Client.Pool.QueryRow(ctx, `
		SELECT run_id, flow_id, flow_version, session_id, current_state, status, context, started_at, updated_at, completed_at, progress
		FROM flow_runs
		WHERE session_id = $1 AND status IN ('running', 'waiting')
		LIMIT 1
	`, sessionID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active run for session %s: %w", sessionID, err)
	}
	return run, nil
}

func (s *RunStore) Update(ctx context.Context, run *flowrun.FlowRun) error {
	ctxBody, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("encode run context %s: %w", run.RunID, err)
	}

	tag, err := s.Client.Pool.Exec(ctx, `
		UPDATE flow_runs
		SET current_state = $2, status = $3, context = $4, updated_at = $5, completed_at = $6, progress = $7
		WHERE run_id = $1
	`, run.RunID, run.CurrentState, string(run.Status), ctxBody, run.UpdatedAt, run.CompletedAt, run.Progress)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update run %s: %w", run.RunID, ErrActiveRunExists)
		}
		return fmt.Errorf("update run %s: %w", run.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", run.RunID, flowrun.ErrNotFound)
	}
	return nil
}

func (s *RunStore) AppendStep(ctx context.Context, step *flowrun.Step) error {
	actions, err := json.Marshal(step.ActionsExecuted)
	if err != nil {
		return fmt.Errorf("encode step actions %s/%d: %w", step.RunID, step.StepIndex, err)
	}
	delta, err := json.Marshal(step.OutputDelta)
	if err != nil {
		return fmt.Errorf("encode step output delta %s/%d: %w", step.RunID, step.StepIndex, err)
	}

	_, err = s.Client.Pool.Exec(ctx, `
		INSERT INTO flow_run_steps (run_id, step_index, state, event, actions_executed, output_delta, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, step_index) DO NOTHING
	`, step.RunID, step.StepIndex, step.State, step.Event, actions, delta, step.Timestamp)
	if err != nil {
		return fmt.Errorf("append step %s/%d: %w", step.RunID, step.StepIndex, err)
	}
	return nil
}

func (s *RunStore) ListStale(ctx context.Context, olderThan time.Time) ([]*flowrun.FlowRun, error) {
	rows, err := s.Client.Pool.Query(ctx, `
		SELECT run_id, flow_id, flow_version, session_id, current_state, status, context, started_at, updated_at, completed_at, progress
		FROM flow_runs
		WHERE status IN ('running', 'waiting') AND updated_at < $1
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale runs: %w", err)
	}
	defer rows.Close()

	var out []*flowrun.FlowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list stale runs: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query),
// letting scanRun serve both call sites.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*flowrun.FlowRun, error) {
	var run flowrun.FlowRun
	var status string
	var ctxBody []byte
	if err := row.Scan(&run.RunID, &run.FlowID, &run.FlowVersion, &run.SessionID, &run.CurrentState, &status,
		&ctxBody, &run.StartedAt, &run.UpdatedAt, &run.CompletedAt, &run.Progress); err != nil {
		return nil, err
	}
	run.Status = flowrun.Status(status)
	if len(ctxBody) > 0 {
		if err := json.Unmarshal(ctxBody, &run.Context); err != nil {
			return nil, fmt.Errorf("decode run context: %w", err)
		}
	}
	return &run, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
