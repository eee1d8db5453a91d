package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expertdesk/livesync/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newQuestion(id, userID string, created time.Time) *domain.QuestionRecord {
	return &domain.QuestionRecord{
		ID:         id,
		UserID:     userID,
		Subject:    "Math",
		Body:       "What is " + id + "?",
		Status:     domain.StatusProcessing,
		Stage:      domain.StageSubmitted,
		NextStepAt: created.Add(time.Second),
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestAccountCounters(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	acct, err := repo.EnsureAccount(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Zero(t, acct.Credits)

	// Idempotent.
	_, err = repo.EnsureAccount(ctx, "u1")
	require.NoError(t, err)

	total, err := repo.AddCredits(ctx, "u1", 10)
	require.NoError(t, err)
	assert.InDelta(t, 10, total, 1e-9)
	total, err = repo.AddCredits(ctx, "u1", 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, total, 1e-9)

	n, err := repo.IncrementNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.IncrementNotifications(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, repo.ResetNotifications(ctx, "u1"))
	acct, err = repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.Notifications)

	_, err = repo.AddCredits(ctx, "missing", 1)
	require.Error(t, err)

	missing, err := repo.GetAccount(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQuestionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	q := newQuestion("q1", "u1", base)
	require.NoError(t, repo.CreateQuestion(ctx, q))

	got, err := repo.GetQuestion(ctx, "q1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.True(t, got.CreatedAt.Equal(base))

	due, err := repo.DueQuestions(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "not due before next_step_at")

	due, err = repo.DueQuestions(ctx, base.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	next := *due[0]
	next.Stage = domain.StageExpertAssigned
	next.Status = domain.StatusReviewing
	next.ExpertName = "Ada"
	next.NextStepAt = base.Add(5 * time.Second)
	require.NoError(t, repo.UpdateQuestion(ctx, &next, domain.StageSubmitted))

	// A writer holding the stale stage loses.
	err = repo.UpdateQuestion(ctx, &next, domain.StageSubmitted)
	assert.True(t, errors.Is(err, ErrStageConflict))

	got, err = repo.GetQuestion(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.ExpertName)
	assert.Equal(t, domain.StageExpertAssigned, got.Stage)

	done := *got
	done.Stage = domain.StageDelivered
	done.Status = domain.StatusDelivered
	require.NoError(t, repo.UpdateQuestion(ctx, &done, domain.StageExpertAssigned))

	due, err = repo.DueQuestions(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "delivered questions are never due")

	missing, err := repo.GetQuestion(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	_, err := repo.EnsureAccount(ctx, "u1")
	require.NoError(t, err)
	_, err = repo.AddCredits(ctx, "u1", 4)
	require.NoError(t, err)

	require.NoError(t, repo.CreateQuestion(ctx, newQuestion("q1", "u1", base)))
	require.NoError(t, repo.CreateQuestion(ctx, newQuestion("q2", "u1", base.Add(time.Minute))))
	require.NoError(t, repo.CreateQuestion(ctx, newQuestion("other", "u2", base)))

	rating := 4.5
	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, repo.AddAnswer(ctx, "u1", domain.RecentAnswer{
			ID:        id,
			Question:  "q",
			Answer:    "a",
			Expert:    "Ada",
			Subject:   "Math",
			Timestamp: base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			Rating:    &rating,
		}))
	}
	// Redelivery is ignored.
	require.NoError(t, repo.AddAnswer(ctx, "u1", domain.RecentAnswer{ID: "a1", Answer: "changed", Timestamp: "x"}))

	snap, err := repo.Snapshot(ctx, "u1", 2)
	require.NoError(t, err)

	require.Len(t, snap.Questions, 2)
	assert.Equal(t, "q1", snap.Questions[0].ID)
	assert.Equal(t, "q2", snap.Questions[1].ID)

	require.Len(t, snap.RecentAnswers, 2)
	assert.Equal(t, "a3", snap.RecentAnswers[0].ID)
	assert.Equal(t, "a2", snap.RecentAnswers[1].ID)
	require.NotNil(t, snap.RecentAnswers[0].Rating)
	assert.InDelta(t, 4.5, *snap.RecentAnswers[0].Rating, 1e-9)

	assert.InDelta(t, 4, snap.Credits, 1e-9)

	empty, err := repo.Snapshot(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty.Questions)
	assert.Empty(t, empty.Questions)
}

func TestIsConflictError(t *testing.T) {
	assert.False(t, IsConflictError(nil))
	assert.True(t, IsConflictError(errors.New("database is locked")))
	assert.True(t, IsConflictError(errors.New("SQLITE_BUSY: retry")))
	assert.False(t, IsConflictError(errors.New("no such table")))
}

func TestWithRetryStopsOnNonConflict(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = withRetry(context.Background(), "test", func() error {
		calls++
		return errors.New("constraint failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
