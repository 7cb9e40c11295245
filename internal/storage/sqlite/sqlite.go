// Copyright 2025 The takt authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite storage backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/takt-io/takt/internal/model"
	"github.com/takt-io/takt/internal/storage"
	"github.com/takt-io/takt/pkg/errors"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ storage.EventLog      = (*Backend)(nil)
	_ storage.ActiveIndex   = (*Backend)(nil)
	_ storage.WorkflowStore = (*Backend)(nil)
	_ storage.BackfillStore = (*Backend)(nil)
	_ storage.ConfigStore   = (*Backend)(nil)
	_ storage.Transactioner = (*Backend)(nil)
	_ storage.Backend       = (*Backend)(nil)
	_ storage.Transaction   = (*transaction)(nil)
)

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config locates the database.
type Config struct {
	// Path is the database file, created on first open.
	Path string

	// WAL turns on write-ahead logging so readers do not block the writer.
	WAL bool
}

// New opens or creates the database at cfg.Path, applies the session
// pragmas and brings the schema up to date.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// SQLite has a single writer; one connection keeps our own
	// goroutines from tripping SQLITE_BUSY against each other.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	b := &Backend{db: db}

	if err := b.applyPragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}

	if err := b.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

// applyPragmas sets the per-database session options. busy_timeout
// covers lock contention with external readers such as sqlite3 shells.
func (b *Backend) applyPragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}

	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "applying %s", pragma)
		}
	}

	return nil
}

// ensureSchema creates missing tables. The statements are idempotent;
// every boot runs all of them.
func (b *Backend) ensureSchema(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			component TEXT NOT NULL,
			workflow TEXT NOT NULL,
			parameter TEXT NOT NULL,
			counter INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (component, workflow, parameter, counter)
		)`,
		`CREATE TABLE IF NOT EXISTS active_states (
			component TEXT NOT NULL,
			workflow TEXT NOT NULL,
			parameter TEXT NOT NULL,
			counter INTEGER NOT NULL,
			trigger_id TEXT NOT NULL,
			PRIMARY KEY (component, workflow, parameter)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_active_states_trigger ON active_states(trigger_id)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			component TEXT NOT NULL,
			name TEXT NOT NULL,
			schedule TEXT NOT NULL,
			config TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 0,
			next_natural_trigger TEXT,
			PRIMARY KEY (component, name)
		)`,
		`CREATE TABLE IF NOT EXISTS backfills (
			id TEXT PRIMARY KEY,
			component TEXT NOT NULL,
			workflow TEXT NOT NULL,
			range_start TEXT NOT NULL,
			range_end TEXT NOT NULL,
			schedule TEXT NOT NULL,
			concurrency INTEGER NOT NULL,
			next_trigger TEXT NOT NULL,
			description TEXT,
			reverse INTEGER NOT NULL DEFAULT 0,
			all_triggered INTEGER NOT NULL DEFAULT 0,
			halted INTEGER NOT NULL DEFAULT 0,
			trigger_parameters TEXT,
			created TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backfills_workflow ON backfills(component, workflow)`,
		`CREATE INDEX IF NOT EXISTS idx_backfills_created ON backfills(created)`,
		`CREATE TABLE IF NOT EXISTS runtime_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			enabled INTEGER NOT NULL,
			submission_rate REAL NOT NULL,
			runner_id TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return errors.Wrap(err, "creating schema")
		}
	}

	return nil
}

// dbtx is the intersection of *sql.DB and *sql.Tx used by the query helpers,
// so every statement runs identically inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Events returns the instance's event history in counter order.
func (b *Backend) Events(ctx context.Context, wi model.WorkflowInstance) ([]model.SequencedEvent, error) {
	query := `
		SELECT counter, payload, timestamp FROM events
		WHERE component = ? AND workflow = ? AND parameter = ?
		ORDER BY counter
	`

	rows, err := b.db.QueryContext(ctx, query, wi.Component, wi.Name, wi.Parameter)
	if err != nil {
		return nil, errors.Wrap(err, "reading events")
	}
	defer rows.Close()

	var events []model.SequencedEvent
	for rows.Next() {
		var se model.SequencedEvent
		var payload string
		if err := rows.Scan(&se.Counter, &payload, &se.Timestamp); err != nil {
			return nil, errors.Wrap(err, "scanning event")
		}
		if err := json.Unmarshal([]byte(payload), &se.Event); err != nil {
			return nil, errors.Wrap(err, "decoding event payload")
		}
		events = append(events, se)
	}
	return events, rows.Err()
}

// LatestCounter returns the last event counter for the instance, -1 if none.
func (b *Backend) LatestCounter(ctx context.Context, wi model.WorkflowInstance) (int64, error) {
	return latestCounter(ctx, b.db, wi)
}

func latestCounter(ctx context.Context, q dbtx, wi model.WorkflowInstance) (int64, error) {
	query := `
		SELECT COALESCE(MAX(counter), -1) FROM events
		WHERE component = ? AND workflow = ? AND parameter = ?
	`

	var counter int64
	if err := q.QueryRowContext(ctx, query, wi.Component, wi.Name, wi.Parameter).Scan(&counter); err != nil {
		return 0, errors.Wrap(err, "reading latest counter")
	}
	return counter, nil
}

// ActiveEntries returns the entire active index.
func (b *Backend) ActiveEntries(ctx context.Context) ([]storage.ActiveEntry, error) {
	return b.queryActiveEntries(ctx, `
		SELECT component, workflow, parameter, counter, trigger_id FROM active_states
		ORDER BY component, workflow, parameter
	`)
}

// ActiveEntriesByTrigger returns the active entries started by a trigger.
func (b *Backend) ActiveEntriesByTrigger(ctx context.Context, triggerID string) ([]storage.ActiveEntry, error) {
	return b.queryActiveEntries(ctx, `
		SELECT component, workflow, parameter, counter, trigger_id FROM active_states
		WHERE trigger_id = ?
		ORDER BY component, workflow, parameter
	`, triggerID)
}

func (b *Backend) queryActiveEntries(ctx context.Context, query string, args ...any) ([]storage.ActiveEntry, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "reading active index")
	}
	defer rows.Close()

	var entries []storage.ActiveEntry
	for rows.Next() {
		var e storage.ActiveEntry
		if err := rows.Scan(&e.Instance.Component, &e.Instance.Name, &e.Instance.Parameter, &e.Counter, &e.TriggerID); err != nil {
			return nil, errors.Wrap(err, "scanning active entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActiveEntry returns the entry for one instance.
func (b *Backend) ActiveEntry(ctx context.Context, wi model.WorkflowInstance) (*storage.ActiveEntry, error) {
	query := `
		SELECT counter, trigger_id FROM active_states
		WHERE component = ? AND workflow = ? AND parameter = ?
	`

	entry := storage.ActiveEntry{Instance: wi}
	err := b.db.QueryRowContext(ctx, query, wi.Component, wi.Name, wi.Parameter).
		Scan(&entry.Counter, &entry.TriggerID)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "active state", ID: wi.String()}
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading active entry")
	}
	return &entry, nil
}

// StoreWorkflow creates or replaces a workflow definition. Scheduling state
// of an existing workflow is preserved.
func (b *Backend) StoreWorkflow(ctx context.Context, wf model.Workflow) error {
	configJSON, err := json.Marshal(wf.Config)
	if err != nil {
		return errors.Wrap(err, "encoding workflow config")
	}

	query := `
		INSERT INTO workflows (component, name, schedule, config)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(component, name) DO UPDATE SET schedule = excluded.schedule, config = excluded.config
	`

	if _, err := b.db.ExecContext(ctx, query, wf.ID.Component, wf.ID.Name, string(wf.Schedule), string(configJSON)); err != nil {
		return errors.Wrap(err, "storing workflow")
	}
	return nil
}

// Workflow returns a workflow by id.
func (b *Backend) Workflow(ctx context.Context, id model.WorkflowID) (*model.Workflow, error) {
	query := `SELECT schedule, config FROM workflows WHERE component = ? AND name = ?`

	var schedule, configJSON string
	err := b.db.QueryRowContext(ctx, query, id.Component, id.Name).Scan(&schedule, &configJSON)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading workflow")
	}

	wf := model.Workflow{ID: id, Schedule: model.Schedule(schedule)}
	if err := json.Unmarshal([]byte(configJSON), &wf.Config); err != nil {
		return nil, errors.Wrap(err, "decoding workflow config")
	}
	return &wf, nil
}

// Workflows returns all workflow definitions.
func (b *Backend) Workflows(ctx context.Context) ([]model.Workflow, error) {
	query := `SELECT component, name, schedule, config FROM workflows ORDER BY component, name`

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "listing workflows")
	}
	defer rows.Close()

	var workflows []model.Workflow
	for rows.Next() {
		var wf model.Workflow
		var schedule, configJSON string
		if err := rows.Scan(&wf.ID.Component, &wf.ID.Name, &schedule, &configJSON); err != nil {
			return nil, errors.Wrap(err, "scanning workflow")
		}
		wf.Schedule = model.Schedule(schedule)
		if err := json.Unmarshal([]byte(configJSON), &wf.Config); err != nil {
			return nil, errors.Wrap(err, "decoding workflow config")
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes a workflow definition and its state.
func (b *Backend) DeleteWorkflow(ctx context.Context, id model.WorkflowID) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM workflows WHERE component = ? AND name = ?`, id.Component, id.Name); err != nil {
		return errors.Wrap(err, "deleting workflow")
	}
	return nil
}

// WorkflowState returns the scheduling state of a workflow.
func (b *Backend) WorkflowState(ctx context.Context, id model.WorkflowID) (*model.WorkflowState, error) {
	query := `SELECT enabled, next_natural_trigger FROM workflows WHERE component = ? AND name = ?`

	var enabled int
	var next sql.NullString
	err := b.db.QueryRowContext(ctx, query, id.Component, id.Name).Scan(&enabled, &next)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading workflow state")
	}

	state := model.WorkflowState{Enabled: enabled != 0}
	if next.Valid {
		t, err := time.Parse(time.RFC3339, next.String)
		if err != nil {
			return nil, errors.Wrap(err, "parsing next natural trigger")
		}
		state.NextNaturalTrigger = &t
	}
	return &state, nil
}

// SetEnabled flips the enabled flag of a workflow.
func (b *Backend) SetEnabled(ctx context.Context, id model.WorkflowID, enabled bool) error {
	result, err := b.db.ExecContext(ctx,
		`UPDATE workflows SET enabled = ? WHERE component = ? AND name = ?`,
		boolInt(enabled), id.Component, id.Name)
	if err != nil {
		return errors.Wrap(err, "updating enabled flag")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	return nil
}

// UpdateNextNaturalTrigger moves the workflow's natural trigger cursor.
func (b *Backend) UpdateNextNaturalTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error {
	return updateNextNaturalTrigger(ctx, b.db, id, next)
}

func updateNextNaturalTrigger(ctx context.Context, q dbtx, id model.WorkflowID, next time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE workflows SET next_natural_trigger = ? WHERE component = ? AND name = ?`,
		next.UTC().Format(time.RFC3339), id.Component, id.Name)
	if err != nil {
		return errors.Wrap(err, "updating next natural trigger")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return &errors.NotFoundError{Resource: "workflow", ID: id.String()}
	}
	return nil
}

// WorkflowsWithNextNaturalTrigger returns every workflow with its state.
func (b *Backend) WorkflowsWithNextNaturalTrigger(ctx context.Context) ([]storage.WorkflowWithState, error) {
	query := `
		SELECT component, name, schedule, config, enabled, next_natural_trigger
		FROM workflows ORDER BY component, name
	`

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "listing workflows")
	}
	defer rows.Close()

	var out []storage.WorkflowWithState
	for rows.Next() {
		var ws storage.WorkflowWithState
		var schedule, configJSON string
		var enabled int
		var next sql.NullString
		if err := rows.Scan(&ws.Workflow.ID.Component, &ws.Workflow.ID.Name, &schedule, &configJSON, &enabled, &next); err != nil {
			return nil, errors.Wrap(err, "scanning workflow")
		}
		ws.Workflow.Schedule = model.Schedule(schedule)
		if err := json.Unmarshal([]byte(configJSON), &ws.Workflow.Config); err != nil {
			return nil, errors.Wrap(err, "decoding workflow config")
		}
		ws.State.Enabled = enabled != 0
		if next.Valid {
			t, err := time.Parse(time.RFC3339, next.String)
			if err != nil {
				return nil, errors.Wrap(err, "parsing next natural trigger")
			}
			ws.State.NextNaturalTrigger = &t
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// StoreBackfill creates or replaces a backfill.
func (b *Backend) StoreBackfill(ctx context.Context, bf model.Backfill) error {
	return storeBackfill(ctx, b.db, bf)
}

func storeBackfill(ctx context.Context, q dbtx, bf model.Backfill) error {
	var paramsJSON []byte
	if bf.TriggerParameters != nil {
		var err error
		paramsJSON, err = json.Marshal(bf.TriggerParameters)
		if err != nil {
			return errors.Wrap(err, "encoding trigger parameters")
		}
	}

	query := `
		INSERT INTO backfills (id, component, workflow, range_start, range_end, schedule,
			concurrency, next_trigger, description, reverse, all_triggered, halted,
			trigger_parameters, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			concurrency = excluded.concurrency,
			next_trigger = excluded.next_trigger,
			description = excluded.description,
			all_triggered = excluded.all_triggered,
			halted = excluded.halted
	`

	_, err := q.ExecContext(ctx, query,
		bf.ID, bf.Workflow.Component, bf.Workflow.Name,
		bf.Start.UTC().Format(time.RFC3339), bf.End.UTC().Format(time.RFC3339),
		string(bf.Schedule), bf.Concurrency, bf.NextTrigger.UTC().Format(time.RFC3339),
		nullString(bf.Description), boolInt(bf.Reverse), boolInt(bf.AllTriggered), boolInt(bf.Halted),
		nullBytes(paramsJSON), bf.Created.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "storing backfill")
	}
	return nil
}

// Backfill returns a backfill by id.
func (b *Backend) Backfill(ctx context.Context, id string) (*model.Backfill, error) {
	return getBackfill(ctx, b.db, id)
}

const backfillColumns = `id, component, workflow, range_start, range_end, schedule,
	concurrency, next_trigger, description, reverse, all_triggered, halted,
	trigger_parameters, created`

func getBackfill(ctx context.Context, q dbtx, id string) (*model.Backfill, error) {
	row := q.QueryRowContext(ctx, `SELECT `+backfillColumns+` FROM backfills WHERE id = ?`, id)
	bf, err := scanBackfill(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "backfill", ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading backfill")
	}
	return bf, nil
}

// Backfills lists backfills matching the filter, newest first.
func (b *Backend) Backfills(ctx context.Context, filter storage.BackfillFilter) ([]model.Backfill, error) {
	query := `SELECT ` + backfillColumns + ` FROM backfills WHERE 1=1`
	args := []any{}

	if !filter.ShowAll {
		query += ` AND halted = 0 AND all_triggered = 0`
	}
	if filter.Workflow != (model.WorkflowID{}) {
		query += ` AND component = ? AND workflow = ?`
		args = append(args, filter.Workflow.Component, filter.Workflow.Name)
	}
	query += ` ORDER BY created DESC, id DESC`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing backfills")
	}
	defer rows.Close()

	var out []model.Backfill
	for rows.Next() {
		bf, err := scanBackfill(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning backfill")
		}
		out = append(out, *bf)
	}
	return out, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanBackfill.
type scanner interface {
	Scan(dest ...any) error
}

func scanBackfill(row scanner) (*model.Backfill, error) {
	var bf model.Backfill
	var start, end, nextTrigger, created string
	var schedule string
	var description, paramsJSON sql.NullString
	var reverse, allTriggered, halted int

	err := row.Scan(&bf.ID, &bf.Workflow.Component, &bf.Workflow.Name, &start, &end, &schedule,
		&bf.Concurrency, &nextTrigger, &description, &reverse, &allTriggered, &halted,
		&paramsJSON, &created)
	if err != nil {
		return nil, err
	}

	bf.Schedule = model.Schedule(schedule)
	bf.Reverse = reverse != 0
	bf.AllTriggered = allTriggered != 0
	bf.Halted = halted != 0
	if description.Valid {
		bf.Description = description.String
	}
	if paramsJSON.Valid && paramsJSON.String != "" {
		var params model.TriggerParameters
		if err := json.Unmarshal([]byte(paramsJSON.String), &params); err != nil {
			return nil, errors.Wrap(err, "decoding trigger parameters")
		}
		bf.TriggerParameters = &params
	}

	for _, field := range []struct {
		dst *time.Time
		src string
	}{
		{&bf.Start, start},
		{&bf.End, end},
		{&bf.NextTrigger, nextTrigger},
		{&bf.Created, created},
	} {
		t, err := time.Parse(time.RFC3339, field.src)
		if err != nil {
			return nil, errors.Wrap(err, "parsing backfill timestamp")
		}
		*field.dst = t
	}

	return &bf, nil
}

// RuntimeConfig returns the stored runtime configuration or the default.
func (b *Backend) RuntimeConfig(ctx context.Context) (storage.RuntimeConfig, error) {
	var enabled int
	var rate float64
	var runnerID string
	err := b.db.QueryRowContext(ctx, `SELECT enabled, submission_rate, runner_id FROM runtime_config WHERE id = 1`).
		Scan(&enabled, &rate, &runnerID)
	if err == sql.ErrNoRows {
		return storage.DefaultRuntimeConfig(), nil
	}
	if err != nil {
		return storage.RuntimeConfig{}, errors.Wrap(err, "reading runtime config")
	}
	return storage.RuntimeConfig{Enabled: enabled != 0, SubmissionRatePerSec: rate, RunnerID: runnerID}, nil
}

// StoreRuntimeConfig replaces the runtime configuration.
func (b *Backend) StoreRuntimeConfig(ctx context.Context, cfg storage.RuntimeConfig) error {
	query := `
		INSERT INTO runtime_config (id, enabled, submission_rate, runner_id, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			submission_rate = excluded.submission_rate,
			runner_id = excluded.runner_id,
			updated_at = excluded.updated_at
	`

	_, err := b.db.ExecContext(ctx, query, boolInt(cfg.Enabled), cfg.SubmissionRatePerSec,
		cfg.RunnerID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "storing runtime config")
	}
	return nil
}

// RunInTransaction runs fn inside a database transaction.
func (b *Backend) RunInTransaction(ctx context.Context, fn storage.TxFunc) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	if err := fn(&transaction{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	return b.db.Close()
}

// transaction adapts *sql.Tx to storage.Transaction.
type transaction struct {
	tx *sql.Tx
}

func (t *transaction) AppendEvent(ctx context.Context, ev model.Event, expectedCounter int64) (int64, error) {
	current, err := latestCounter(ctx, t.tx, ev.Instance)
	if err != nil {
		return 0, err
	}
	if current != expectedCounter {
		return 0, &errors.ConflictError{
			Resource: "event log",
			ID:       ev.Instance.String(),
			Expected: expectedCounter,
			Actual:   current,
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, errors.Wrap(err, "encoding event")
	}

	counter := expectedCounter + 1
	query := `
		INSERT INTO events (component, workflow, parameter, counter, type, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = t.tx.ExecContext(ctx, query,
		ev.Instance.Component, ev.Instance.Name, ev.Instance.Parameter,
		counter, string(ev.Type), string(payload), time.Now().UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "appending event")
	}
	return counter, nil
}

func (t *transaction) WriteActiveEntry(ctx context.Context, entry storage.ActiveEntry) error {
	query := `
		INSERT INTO active_states (component, workflow, parameter, counter, trigger_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(component, workflow, parameter) DO UPDATE SET
			counter = excluded.counter,
			trigger_id = excluded.trigger_id
	`

	wi := entry.Instance
	if _, err := t.tx.ExecContext(ctx, query, wi.Component, wi.Name, wi.Parameter, entry.Counter, entry.TriggerID); err != nil {
		return errors.Wrap(err, "writing active entry")
	}
	return nil
}

func (t *transaction) DeleteActiveEntry(ctx context.Context, wi model.WorkflowInstance) error {
	query := `DELETE FROM active_states WHERE component = ? AND workflow = ? AND parameter = ?`
	if _, err := t.tx.ExecContext(ctx, query, wi.Component, wi.Name, wi.Parameter); err != nil {
		return errors.Wrap(err, "removing active entry")
	}
	return nil
}

func (t *transaction) Backfill(ctx context.Context, id string) (*model.Backfill, error) {
	return getBackfill(ctx, t.tx, id)
}

func (t *transaction) StoreBackfill(ctx context.Context, bf model.Backfill) error {
	return storeBackfill(ctx, t.tx, bf)
}

func (t *transaction) UpdateNextNaturalTrigger(ctx context.Context, id model.WorkflowID, next time.Time) error {
	return updateNextNaturalTrigger(ctx, t.tx, id, next)
}

// nullString returns a NULL-able string for database insertion.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullBytes returns a NULL-able byte slice for database insertion.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
