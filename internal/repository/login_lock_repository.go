package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

// LoginLockRepository persists failed sign-in counters keyed by hashed email.
type LoginLockRepository struct {
	db *sqlx.DB
}

// NewLoginLockRepository constructs a LoginLockRepository.
func NewLoginLockRepository(db *sqlx.DB) *LoginLockRepository {
	return &LoginLockRepository{db: db}
}

// Get returns the counter for a lock key, or nil when none exists.
func (r *LoginLockRepository) Get(ctx context.Context, lockKey string) (*models.LoginLock, error) {
	const query = `SELECT lock_key, failed_attempts, is_locked, locked_at, updated_at FROM login_locks WHERE lock_key = $1`
	var lock models.LoginLock
	if err := r.db.GetContext(ctx, &lock, query, lockKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get login lock: %w", err)
	}
	return &lock, nil
}

// RecordFailure increments the counter inside a transaction, capping it at threshold and
// locking once the threshold is reached. An already locked row is returned unchanged.
func (r *LoginLockRepository) RecordFailure(ctx context.Context, lockKey string, threshold int) (*models.LoginLock, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login lock tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var current models.LoginLock
	const selectQuery = `SELECT lock_key, failed_attempts, is_locked, locked_at, updated_at FROM login_locks WHERE lock_key = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &current, selectQuery, lockKey)
	switch {
	case err == sql.ErrNoRows:
		current = models.LoginLock{LockKey: lockKey}
	case err != nil:
		return nil, fmt.Errorf("select login lock: %w", err)
	}

	if current.IsLocked {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit login lock: %w", err)
		}
		return &current, nil
	}

	now := time.Now().UTC()
	next := current.FailedAttempts + 1
	if next > threshold {
		next = threshold
	}
	current.FailedAttempts = next
	current.IsLocked = next >= threshold
	current.UpdatedAt = now
	if current.IsLocked {
		current.LockedAt = &now
	}

	const upsert = `INSERT INTO login_locks (lock_key, failed_attempts, is_locked, locked_at, updated_at)
        VALUES (:lock_key, :failed_attempts, :is_locked, :locked_at, :updated_at)
        ON CONFLICT (lock_key) DO UPDATE SET failed_attempts = EXCLUDED.failed_attempts, is_locked = EXCLUDED.is_locked,
        locked_at = COALESCE(EXCLUDED.locked_at, login_locks.locked_at), updated_at = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, upsert, &current); err != nil {
		return nil, fmt.Errorf("upsert login lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login lock: %w", err)
	}
	return &current, nil
}

// Reset clears the counter after a successful sign-in. Locked rows are left untouched.
func (r *LoginLockRepository) Reset(ctx context.Context, lockKey string) error {
	const query = `UPDATE login_locks SET failed_attempts = 0, updated_at = $2 WHERE lock_key = $1 AND is_locked = false`
	if _, err := r.db.ExecContext(ctx, query, lockKey, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset login lock: %w", err)
	}
	return nil
}
