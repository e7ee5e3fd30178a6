package repository

import (
	"database/sql"

	"github.com/RealZimboGuy/seqflow/internal/domain"
)

type MachineActionRepository struct {
	db *sql.DB
}

func NewMachineActionRepository(db *sql.DB) *MachineActionRepository {
	return &MachineActionRepository{db: db}
}

// Save inserts an action and returns its generated id.
func (r *MachineActionRepository) Save(a *domain.MachineAction) (int64, error) {
	vals := []interface{}{a.MachineID, nullString(a.StateID), nullString(a.TaskID), a.ExecutorID, a.Type, a.Name,
		a.Text, formatDateInDatabase(a.DateTime)}
	base := `
		INSERT INTO machine_actions (machine_id, state_id, task_id, executor_id, type, name, text, date_time)
		VALUES (` + placeholders(1, len(vals)) + `)`

	if supportsReturning() {
		if err := r.db.QueryRow(base+" RETURNING id", vals...).Scan(&a.ID); err != nil {
			return 0, err
		}
		return a.ID, nil
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

// FindAllByMachineID returns the audit log of a machine, oldest first.
func (r *MachineActionRepository) FindAllByMachineID(machineID string) ([]*domain.MachineAction, error) {
	query := `
		SELECT id, machine_id, state_id, task_id, executor_id, type, name, text, date_time
		FROM machine_actions
		WHERE machine_id = ` + placeholder(1) + `
		ORDER BY date_time ASC, id ASC
	`
	rows, err := r.db.Query(query, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := make([]*domain.MachineAction, 0)
	for rows.Next() {
		var a domain.MachineAction
		var stateID, taskID, text sql.NullString
		var executorID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.MachineID, &stateID, &taskID, &executorID, &a.Type, &a.Name, &text, &a.DateTime); err != nil {
			return nil, err
		}
		a.StateID = stateID.String
		a.TaskID = taskID.String
		a.Text = text.String
		a.ExecutorID = executorID.Int64
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}
