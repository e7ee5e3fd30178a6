package domain

import "time"

// Executor is a running engine instance. LastActive is its heartbeat, claims
// held by executors that stopped beating are released by the repair service.
type Executor struct {
	ID            int64     `json:"id"`            // BIGSERIAL
	Name          string    `json:"name"`          // TEXT
	ExecutorGroup string    `json:"executorGroup"` // TEXT
	Started       time.Time `json:"started"`       // TIMESTAMP
	LastActive    time.Time `json:"lastActive"`    // TIMESTAMP
}
