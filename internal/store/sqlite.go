package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/expertdesk/livesync/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrStageConflict is returned by UpdateQuestion when another writer has
// already advanced the question.
var ErrStageConflict = errors.New("question stage changed concurrently")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		credits REAL NOT NULL DEFAULT 0,
		notifications INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		status TEXT NOT NULL,
		expert_name TEXT,
		expert_avatar TEXT,
		stage INTEGER NOT NULL DEFAULT 0,
		next_step_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_questions_user ON questions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_questions_due ON questions(next_step_at) WHERE stage < 5;

	CREATE TABLE IF NOT EXISTS answers (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		expert TEXT NOT NULL,
		subject TEXT NOT NULL,
		image TEXT,
		rating REAL,
		delivered_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_answers_user ON answers(user_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureAccount creates the account for userID if it does not exist.
func (s *SQLiteStore) EnsureAccount(ctx context.Context, userID string) (*domain.Account, error) {
	now := time.Now().Unix()
	err := withRetry(ctx, "ensure_account", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (user_id, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`, userID, now, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return s.GetAccount(ctx, userID)
}

// GetAccount retrieves an account by user ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, credits, notifications, created_at, updated_at
		FROM accounts WHERE user_id = ?`, userID)

	var a domain.Account
	var createdAt, updatedAt int64
	err := row.Scan(&a.UserID, &a.Credits, &a.Notifications, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

// AddCredits adds delta to the balance and returns the new total.
func (s *SQLiteStore) AddCredits(ctx context.Context, userID string, delta float64) (float64, error) {
	var total float64
	err := withRetry(ctx, "add_credits", func() error {
		return s.db.QueryRowContext(ctx, `
			UPDATE accounts SET credits = credits + ?, updated_at = ?
			WHERE user_id = ? RETURNING credits`,
			delta, time.Now().Unix(), userID,
		).Scan(&total)
	})
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("add credits: account %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return total, nil
}

// IncrementNotifications adds one unread notification and returns the count.
func (s *SQLiteStore) IncrementNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := withRetry(ctx, "increment_notifications", func() error {
		return s.db.QueryRowContext(ctx, `
			UPDATE accounts SET notifications = notifications + 1, updated_at = ?
			WHERE user_id = ? RETURNING notifications`,
			time.Now().Unix(), userID,
		).Scan(&count)
	})
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("increment notifications: account %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("increment notifications: %w", err)
	}
	return count, nil
}

// ResetNotifications clears the unread count.
func (s *SQLiteStore) ResetNotifications(ctx context.Context, userID string) error {
	err := withRetry(ctx, "reset_notifications", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE accounts SET notifications = 0, updated_at = ? WHERE user_id = ?`,
			time.Now().Unix(), userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("reset notifications: %w", err)
	}
	return nil
}

// CreateQuestion inserts a new question.
func (s *SQLiteStore) CreateQuestion(ctx context.Context, q *domain.QuestionRecord) error {
	err := withRetry(ctx, "create_question", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO questions (id, user_id, subject, body, status, expert_name, expert_avatar,
				stage, next_step_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.UserID, q.Subject, q.Body, string(q.Status),
			nullString(q.ExpertName), nullString(q.ExpertAvatar),
			int(q.Stage), q.NextStepAt.UnixMilli(),
			q.CreatedAt.UnixMilli(), q.UpdatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

const questionColumns = `id, user_id, subject, body, status, expert_name, expert_avatar,
	stage, next_step_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*domain.QuestionRecord, error) {
	var q domain.QuestionRecord
	var status string
	var expertName, expertAvatar sql.NullString
	var stage int
	var nextStepAt, createdAt, updatedAt int64

	err := row.Scan(
		&q.ID, &q.UserID, &q.Subject, &q.Body, &status, &expertName, &expertAvatar,
		&stage, &nextStepAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.Status = domain.Status(status)
	q.ExpertName = expertName.String
	q.ExpertAvatar = expertAvatar.String
	q.Stage = domain.Stage(stage)
	q.NextStepAt = time.UnixMilli(nextStepAt)
	q.CreatedAt = time.UnixMilli(createdAt)
	q.UpdatedAt = time.UnixMilli(updatedAt)
	return &q, nil
}

// GetQuestion retrieves a question by id.
func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*domain.QuestionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan question row: %w", err)
	}
	return q, nil
}

// UpdateQuestion persists the mutable fields of q if its stored stage still
// equals expectedStage.
func (s *SQLiteStore) UpdateQuestion(ctx context.Context, q *domain.QuestionRecord, expectedStage domain.Stage) error {
	var rows int64
	err := withRetry(ctx, "update_question", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE questions SET status = ?, expert_name = ?, expert_avatar = ?,
				stage = ?, next_step_at = ?, updated_at = ?
			WHERE id = ? AND stage = ?`,
			string(q.Status), nullString(q.ExpertName), nullString(q.ExpertAvatar),
			int(q.Stage), q.NextStepAt.UnixMilli(), q.UpdatedAt.UnixMilli(),
			q.ID, int(expectedStage),
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	if rows == 0 {
		return ErrStageConflict
	}
	return nil
}

// DueQuestions returns unfinished questions whose next step is at or before now.
func (s *SQLiteStore) DueQuestions(ctx context.Context, now time.Time, limit int) ([]*domain.QuestionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE stage < ? AND next_step_at <= ?
		ORDER BY next_step_at ASC LIMIT ?`,
		int(domain.StageDelivered), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due questions: %w", err)
	}
	defer rows.Close()

	var due []*domain.QuestionRecord
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due question: %w", err)
		}
		due = append(due, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due questions: %w", err)
	}
	return due, nil
}

// AddAnswer records a delivered answer. A second answer for the same
// question is ignored.
func (s *SQLiteStore) AddAnswer(ctx context.Context, userID string, a domain.RecentAnswer) error {
	var rating interface{}
	if a.Rating != nil {
		rating = *a.Rating
	}
	err := withRetry(ctx, "add_answer", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO answers (question_id, user_id, question, answer, expert, subject, image, rating, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(question_id) DO NOTHING`,
			a.ID, userID, a.Question, a.Answer, a.Expert, a.Subject,
			nullString(a.Image), rating, a.Timestamp,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("add answer: %w", err)
	}
	return nil
}

// Snapshot returns the user's questions in submission order, the most
// recent answers first, and the account counters.
func (s *SQLiteStore) Snapshot(ctx context.Context, userID string, answerLimit int) (domain.Snapshot, error) {
	snap := domain.Snapshot{
		Questions:     []domain.LiveQuestion{},
		RecentAnswers: []domain.RecentAnswer{},
	}

	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return snap, err
	}
	if account != nil {
		snap.Credits = account.Credits
		snap.Notifications = account.Notifications
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return snap, fmt.Errorf("query questions: %w", err)
	}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan question: %w", err)
		}
		snap.Questions = append(snap.Questions, q.Live())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate questions: %w", err)
	}

	arows, err := s.db.QueryContext(ctx, `
		SELECT question_id, question, answer, expert, subject, image, rating, delivered_at
		FROM answers WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, answerLimit)
	if err != nil {
		return snap, fmt.Errorf("query answers: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var a domain.RecentAnswer
		var image sql.NullString
		var rating sql.NullFloat64
		if err := arows.Scan(&a.ID, &a.Question, &a.Answer, &a.Expert, &a.Subject, &image, &rating, &a.Timestamp); err != nil {
			return snap, fmt.Errorf("scan answer: %w", err)
		}
		a.Image = image.String
		if rating.Valid {
			r := rating.Float64
			a.Rating = &r
		}
		snap.RecentAnswers = append(snap.RecentAnswers, a)
	}
	if err := arows.Err(); err != nil {
		return snap, fmt.Errorf("iterate answers: %w", err)
	}
	return snap, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
