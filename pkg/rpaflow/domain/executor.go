package domain

import "time"

// Executor is one engine process; LastActive is its heartbeat.
type Executor struct {
	ID         int64     // BIGSERIAL
	Name       string    // TEXT
	Started    time.Time // TIMESTAMP
	LastActive time.Time // TIMESTAMP
}
