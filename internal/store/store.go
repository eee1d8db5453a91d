// Package store provides data persistence interfaces and implementations
// for the dev backend.
package store

import (
	"context"
	"time"

	"github.com/expertdesk/livesync/internal/domain"
)

// Repository defines the interface for persisting accounts, questions and answers.
type Repository interface {
	// EnsureAccount creates the account for userID if it does not exist.
	EnsureAccount(ctx context.Context, userID string) (*domain.Account, error)

	// GetAccount retrieves an account, or nil if there is none.
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)

	// AddCredits adds delta to the balance and returns the new total.
	AddCredits(ctx context.Context, userID string, delta float64) (float64, error)

	// IncrementNotifications adds one unread notification and returns the count.
	IncrementNotifications(ctx context.Context, userID string) (int, error)

	// ResetNotifications clears the unread count.
	ResetNotifications(ctx context.Context, userID string) error

	// CreateQuestion inserts a new question.
	CreateQuestion(ctx context.Context, q *domain.QuestionRecord) error

	// GetQuestion retrieves a question by id, or nil if there is none.
	GetQuestion(ctx context.Context, id string) (*domain.QuestionRecord, error)

	// UpdateQuestion persists status, expert, stage and schedule. If
	// expectedStage does not match the stored stage the update is skipped
	// and ErrStageConflict is returned (optimistic locking).
	UpdateQuestion(ctx context.Context, q *domain.QuestionRecord, expectedStage domain.Stage) error

	// DueQuestions returns unfinished questions whose next step is due.
	DueQuestions(ctx context.Context, now time.Time, limit int) ([]*domain.QuestionRecord, error)

	// AddAnswer records a delivered answer for userID.
	AddAnswer(ctx context.Context, userID string, a domain.RecentAnswer) error

	// Snapshot returns the state a dashboard is seeded with.
	Snapshot(ctx context.Context, userID string, answerLimit int) (domain.Snapshot, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
