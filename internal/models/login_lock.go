package models

import "time"

// LoginLock tracks failed sign-in attempts for one hashed email.
type LoginLock struct {
	LockKey        string     `db:"lock_key" json:"-"`
	FailedAttempts int        `db:"failed_attempts" json:"failed_attempts"`
	IsLocked       bool       `db:"is_locked" json:"is_locked"`
	LockedAt       *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// LockStatus is returned to clients checking or recording failures.
type LockStatus struct {
	IsLocked          bool `json:"is_locked"`
	FailedAttempts    int  `json:"failed_attempts"`
	RemainingAttempts int  `json:"remaining_attempts"`
}
