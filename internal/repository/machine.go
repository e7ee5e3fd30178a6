package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"
)

// MachineRepository persists state machines as four tables: machines, states,
// tasks and transitions.
type MachineRepository struct {
	db    *sql.DB
	clock core.Clock
}

// MachineSearch filters SearchMachines. Empty fields are ignored.
type MachineSearch struct {
	Status string
	Name   string
	Limit  int
	Offset int
}

const MACHINE_COLUMNS = ` id, name, status, version, executor_group, executor_id, next_activation,
		       created, modified, date_queued, date_started, date_completed `

const STATE_COLUMNS = ` id, machine_id, name, kind, position, is_start, is_active, task_id, exit_task_id,
		       blueprint, exit_blueprint, samples, run_chambers, prerequisites, date_entered, date_exited `

const TASK_COLUMNS = ` id, machine_id, state_id, name, kind, status, params, process_id, exit_code, output,
		       created, started, ended `

func NewMachineRepository(db *sql.DB, clock core.Clock) *MachineRepository {
	return &MachineRepository{db: db, clock: clock}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMachine(row rowScanner) (*domain.FiniteStateMachine, error) {
	var m domain.FiniteStateMachine
	var status string
	err := row.Scan(
		&m.ID,
		&m.Name,
		&status,
		&m.Version,
		&m.ExecutorGroup,
		&m.ExecutorID,
		&m.NextActivation,
		&m.Created,
		&m.Modified,
		&m.DateQueued,
		&m.DateStarted,
		&m.DateCompleted,
	)
	if err != nil {
		return nil, err
	}
	m.Status = domain.Status(status)
	m.Tasks = map[string]*domain.Task{}
	return &m, nil
}

func scanState(row rowScanner) (*domain.State, error) {
	var s domain.State
	var kind string
	var taskID, exitTaskID, blueprint, exitBlueprint, samples, chambers, prereqs sql.NullString
	err := row.Scan(
		&s.ID,
		&s.MachineID,
		&s.Name,
		&kind,
		&s.Position,
		&s.Start,
		&s.Active,
		&taskID,
		&exitTaskID,
		&blueprint,
		&exitBlueprint,
		&samples,
		&chambers,
		&prereqs,
		&s.DateEntered,
		&s.DateExited,
	)
	if err != nil {
		return nil, err
	}
	s.Kind = domain.StateKind(kind)
	s.TaskID = taskID.String
	s.ExitTaskID = exitTaskID.String
	if blueprint.Valid {
		s.Blueprint = &domain.TaskBlueprint{}
		if err := json.Unmarshal([]byte(blueprint.String), s.Blueprint); err != nil {
			return nil, fmt.Errorf("decode blueprint of state %s: %w", s.ID, err)
		}
	}
	if exitBlueprint.Valid {
		s.ExitBlueprint = &domain.TaskBlueprint{}
		if err := json.Unmarshal([]byte(exitBlueprint.String), s.ExitBlueprint); err != nil {
			return nil, fmt.Errorf("decode exit blueprint of state %s: %w", s.ID, err)
		}
	}
	if s.Samples, err = decodeList(samples); err != nil {
		return nil, err
	}
	if s.RunChambers, err = decodeList(chambers); err != nil {
		return nil, err
	}
	if s.Prerequisites, err = decodeList(prereqs); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var kind, status, params string
	var output sql.NullString
	err := row.Scan(
		&t.ID,
		&t.MachineID,
		&t.StateID,
		&t.Name,
		&kind,
		&status,
		&params,
		&t.ProcessID,
		&t.ExitCode,
		&output,
		&t.Created,
		&t.Started,
		&t.Ended,
	)
	if err != nil {
		return nil, err
	}
	t.Kind = domain.TaskKind(kind)
	t.Status = domain.Status(status)
	t.Output = output.String
	if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
		return nil, fmt.Errorf("decode params of task %s: %w", t.ID, err)
	}
	return &t, nil
}

// SaveMachine inserts a new machine with its whole graph in one transaction.
func (r *MachineRepository) SaveMachine(ctx context.Context, m *domain.FiniteStateMachine) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	vals := []interface{}{m.ID, m.Name, string(m.Status), m.Version, m.ExecutorGroup, m.ExecutorID,
		formatDateInDatabaseNull(m.NextActivation), formatDateInDatabase(m.Created), formatDateInDatabase(m.Modified),
		formatDateInDatabaseNull(m.DateQueued), formatDateInDatabaseNull(m.DateStarted), formatDateInDatabaseNull(m.DateCompleted)}
	query := `INSERT INTO machines (` + MACHINE_COLUMNS + `) VALUES (` + placeholders(1, len(vals)) + `)`
	if _, err = tx.Exec(query, vals...); err != nil {
		return fmt.Errorf("insert machine %s: %w", m.Name, err)
	}
	for _, s := range m.States {
		if err = insertState(tx, s); err != nil {
			return err
		}
	}
	for _, t := range m.Tasks {
		if err = insertTask(tx, t); err != nil {
			return err
		}
	}
	for _, t := range m.Transitions {
		if err = insertTransition(tx, t); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func stateValues(s *domain.State) ([]interface{}, error) {
	blueprint, err := encodeJSON(s.Blueprint)
	if err != nil {
		return nil, err
	}
	exitBlueprint, err := encodeJSON(s.ExitBlueprint)
	if err != nil {
		return nil, err
	}
	return []interface{}{s.ID, s.MachineID, s.Name, string(s.Kind), s.Position, s.Start, s.Active,
		nullString(s.TaskID), nullString(s.ExitTaskID), blueprint, exitBlueprint, encodeList(s.Samples),
		encodeList(s.RunChambers), encodeList(s.Prerequisites), formatDateInDatabaseNull(s.DateEntered),
		formatDateInDatabaseNull(s.DateExited)}, nil
}

func insertState(db execer, s *domain.State) error {
	vals, err := stateValues(s)
	if err != nil {
		return err
	}
	query := `INSERT INTO states (` + STATE_COLUMNS + `) VALUES (` + placeholders(1, len(vals)) + `)`
	if _, err := db.Exec(query, vals...); err != nil {
		return fmt.Errorf("insert state %s: %w", s.Name, err)
	}
	return nil
}

func updateState(db execer, s *domain.State) error {
	vals, err := stateValues(s)
	if err != nil {
		return err
	}
	query := `
		UPDATE states
		SET name = ` + placeholder(1) + `, is_active = ` + placeholder(2) + `, task_id = ` + placeholder(3) + `,
		    exit_task_id = ` + placeholder(4) + `, samples = ` + placeholder(5) + `, date_entered = ` + placeholder(6) + `,
		    date_exited = ` + placeholder(7) + `
		WHERE id = ` + placeholder(8) + `
	`
	_, err = db.Exec(query, s.Name, s.Active, vals[7], vals[8], vals[11], vals[14], vals[15], s.ID)
	if err != nil {
		return fmt.Errorf("update state %s: %w", s.Name, err)
	}
	return nil
}

func taskValues(t *domain.Task) ([]interface{}, error) {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return nil, err
	}
	return []interface{}{t.ID, t.MachineID, t.StateID, t.Name, string(t.Kind), string(t.Status), string(params),
		t.ProcessID, t.ExitCode, t.Output, formatDateInDatabase(t.Created), formatDateInDatabaseNull(t.Started),
		formatDateInDatabaseNull(t.Ended)}, nil
}

func insertTask(db execer, t *domain.Task) error {
	vals, err := taskValues(t)
	if err != nil {
		return err
	}
	query := `INSERT INTO tasks (` + TASK_COLUMNS + `) VALUES (` + placeholders(1, len(vals)) + `)`
	if _, err := db.Exec(query, vals...); err != nil {
		return fmt.Errorf("insert task %s: %w", t.Name, err)
	}
	return nil
}

func updateTask(db execer, t *domain.Task) error {
	vals, err := taskValues(t)
	if err != nil {
		return err
	}
	query := `
		UPDATE tasks
		SET status = ` + placeholder(1) + `, params = ` + placeholder(2) + `, process_id = ` + placeholder(3) + `,
		    exit_code = ` + placeholder(4) + `, output = ` + placeholder(5) + `, started = ` + placeholder(6) + `,
		    ended = ` + placeholder(7) + `
		WHERE id = ` + placeholder(8) + `
	`
	if _, err := db.Exec(query, vals[5], vals[6], vals[7], vals[8], vals[9], vals[11], vals[12], t.ID); err != nil {
		return fmt.Errorf("update task %s: %w", t.Name, err)
	}
	return nil
}

func insertTransition(db execer, t *domain.Transition) error {
	query := `INSERT INTO transitions (id, machine_id, name, from_state_id, to_state_id) VALUES (` + placeholders(1, 5) + `)`
	if _, err := db.Exec(query, t.ID, t.MachineID, t.Name, t.FromStateID, t.ToStateID); err != nil {
		return fmt.Errorf("insert transition %s: %w", t.Name, err)
	}
	return nil
}

func insertAction(db execer, a *internal.MachineAction) error {
	query := `
		INSERT INTO machine_actions (machine_id, state_id, task_id, executor_id, type, name, text, date_time)
		VALUES (` + placeholders(1, 8) + `)`
	_, err := db.Exec(query, a.MachineID, nullString(a.StateID), nullString(a.TaskID), a.ExecutorID, a.Type, a.Name,
		a.Text, formatDateInDatabase(a.DateTime))
	return err
}

// FindByID loads a machine with its states, tasks and transitions.
func (r *MachineRepository) FindByID(id string) (*domain.FiniteStateMachine, error) {
	m, err := scanMachine(r.db.QueryRow(`SELECT `+MACHINE_COLUMNS+` FROM machines WHERE id = `+placeholder(1), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrMachineNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(`SELECT `+STATE_COLUMNS+` FROM states WHERE machine_id = `+placeholder(1)+` ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		m.States = append(m.States, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(`SELECT `+TASK_COLUMNS+` FROM tasks WHERE machine_id = `+placeholder(1), id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		m.Tasks[t.ID] = t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(`SELECT id, machine_id, name, from_state_id, to_state_id FROM transitions WHERE machine_id = `+placeholder(1), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t domain.Transition
		var name sql.NullString
		if err := rows.Scan(&t.ID, &t.MachineID, &name, &t.FromStateID, &t.ToStateID); err != nil {
			return nil, err
		}
		t.Name = name.String
		m.Transitions = append(m.Transitions, &t)
	}
	return m, rows.Err()
}

func (r *MachineRepository) queryMachines(query string, args ...interface{}) ([]*domain.FiniteStateMachine, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	machines := make([]*domain.FiniteStateMachine, 0)
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// FindDueMachines returns unclaimed machines whose next activation has passed.
// Only the machine row is loaded.
func (r *MachineRepository) FindDueMachines(size int, executorGroup string) ([]*domain.FiniteStateMachine, error) {
	query := `
		SELECT ` + MACHINE_COLUMNS + `
		FROM machines
		WHERE next_activation < ` + placeholder(1) + `
		  AND status IN ('QUEUED', 'RUNNING')
		  AND executor_id IS NULL
		  AND executor_group = ` + placeholder(2) + `
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(3) + `
	`
	return r.queryMachines(query, formatDateInDatabase(r.clock.Now()), executorGroup, size)
}

// ClaimMachine takes the machine for one tick. It only succeeds when nobody
// holds it and the version is the one the caller loaded.
func (r *MachineRepository) ClaimMachine(id string, executorID int64, version int64) bool {
	query := `
		UPDATE machines
		SET executor_id = ` + placeholder(1) + `, modified = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3) + ` AND version = ` + placeholder(4) + ` AND executor_id IS NULL
	`
	result, err := r.db.Exec(query, executorID, formatDateInDatabase(r.clock.Now()), id, version)
	if err != nil {
		slog.Error("Failed to claim machine", "error", err, "machine_id", id, "executor_id", executorID, "version", version)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// ReleaseMachine drops the claim without touching the graph or the version.
func (r *MachineRepository) ReleaseMachine(id string, executorID int64, nextActivation time.Time) error {
	query := `
		UPDATE machines
		SET executor_id = NULL, next_activation = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + ` AND executor_id = ` + placeholder(3) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(nextActivation), id, executorID)
	return err
}

// CommitTick writes a change set and releases the claim in one transaction.
// The machine row is only updated when the version still matches, otherwise
// everything is rolled back and ErrStaleMachine is returned.
func (r *MachineRepository) CommitTick(ctx context.Context, cs *internal.ChangeSet, executorID int64, nextActivation time.Time) (err error) {
	m := cs.Machine
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := r.clock.Now()
	query := `
		UPDATE machines
		SET status = ` + placeholder(1) + `, version = version + 1, executor_id = NULL,
		    next_activation = ` + placeholder(2) + `, modified = ` + placeholder(3) + `,
		    date_started = ` + placeholder(4) + `, date_completed = ` + placeholder(5) + `
		WHERE id = ` + placeholder(6) + ` AND version = ` + placeholder(7) + ` AND executor_id = ` + placeholder(8) + `
	`
	res, err := tx.Exec(query, string(m.Status), formatDateInDatabase(nextActivation), formatDateInDatabase(now),
		formatDateInDatabaseNull(m.DateStarted), formatDateInDatabaseNull(m.DateCompleted), m.ID, cs.ExpectedVersion, executorID)
	if err != nil {
		return fmt.Errorf("update machine %s: %w", m.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		err = fmt.Errorf("%w: %s at version %d", domain.ErrStaleMachine, m.ID, cs.ExpectedVersion)
		return err
	}

	for _, s := range cs.NewStates {
		if err = insertState(tx, s); err != nil {
			return err
		}
	}
	for _, s := range cs.States {
		if err = updateState(tx, s); err != nil {
			return err
		}
	}
	for _, t := range cs.NewTransitions {
		if err = insertTransition(tx, t); err != nil {
			return err
		}
	}
	for _, t := range cs.NewTasks {
		if err = insertTask(tx, t); err != nil {
			return err
		}
	}
	for _, t := range cs.Tasks {
		if err = updateTask(tx, t); err != nil {
			return err
		}
	}
	for _, a := range cs.Actions {
		if a.ExecutorID == 0 {
			a.ExecutorID = executorID
		}
		if err = insertAction(tx, a); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	m.Version = cs.ExpectedVersion + 1
	m.ExecutorID = sql.NullInt64{}
	m.Modified = now
	m.NextActivation = sql.NullTime{Time: nextActivation, Valid: true}
	return nil
}

// FindStuckMachines returns machines claimed by executors whose heartbeat is
// older than minutesRepair minutes.
func (r *MachineRepository) FindStuckMachines(minutesRepair string, executorGroup string, limit int) ([]*domain.FiniteStateMachine, error) {
	minutes, err := strconv.Atoi(minutesRepair)
	if err != nil {
		return nil, fmt.Errorf("invalid repair minutes %q: %w", minutesRepair, err)
	}
	cutoff := formatDateInDatabase(r.clock.Now().Add(-time.Duration(minutes) * time.Minute))
	query := `
		SELECT ` + MACHINE_COLUMNS + `
		FROM machines
		WHERE executor_id IS NOT NULL
		  AND modified < ` + placeholder(1) + `
		  AND executor_group = ` + placeholder(2) + `
		  AND executor_id NOT IN (
		      SELECT id
		      FROM executors
		      WHERE last_active > ` + placeholder(3) + `
		  )
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(4) + `
	`
	return r.queryMachines(query, cutoff, executorGroup, cutoff, limit)
}

// ClearExecutorID releases a claim held by a dead executor.
func (r *MachineRepository) ClearExecutorID(id string, executorID int64) bool {
	query := `UPDATE machines SET executor_id = NULL, next_activation = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + ` AND executor_id = ` + placeholder(3)
	res, err := r.db.Exec(query, formatDateInDatabase(r.clock.Now()), id, executorID)
	if err != nil {
		slog.Error("Failed to clear machine executor", "error", err, "machine_id", id)
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n == 1
}

// SaveAction writes an audit row outside of a tick.
func (r *MachineRepository) SaveAction(a *internal.MachineAction) error {
	if a.DateTime.IsZero() {
		a.DateTime = r.clock.Now()
	}
	return insertAction(r.db, a)
}

func (r *MachineRepository) SearchMachines(req MachineSearch) ([]*domain.FiniteStateMachine, error) {
	query := `SELECT ` + MACHINE_COLUMNS + ` FROM machines WHERE 1 = 1`
	args := []interface{}{}
	if req.Status != "" {
		args = append(args, req.Status)
		query += ` AND status = ` + placeholder(len(args))
	}
	if req.Name != "" {
		args = append(args, "%"+req.Name+"%")
		query += ` AND name LIKE ` + placeholder(len(args))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` ORDER BY created DESC LIMIT ` + placeholder(len(args))
	args = append(args, req.Offset)
	query += ` OFFSET ` + placeholder(len(args))
	return r.queryMachines(query, args...)
}

func (r *MachineRepository) FindTaskByID(id string) (*domain.Task, error) {
	t, err := scanTask(r.db.QueryRow(`SELECT `+TASK_COLUMNS+` FROM tasks WHERE id = `+placeholder(1), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return t, err
}

// FindTaskStatuses resolves task ids that may live in other machines.
func (r *MachineRepository) FindTaskStatuses(ids []string) (map[string]domain.Status, error) {
	statuses := make(map[string]domain.Status, len(ids))
	if len(ids) == 0 {
		return statuses, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.Query(`SELECT id, status FROM tasks WHERE id IN (`+placeholders(1, len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		statuses[id] = domain.Status(status)
	}
	return statuses, rows.Err()
}
