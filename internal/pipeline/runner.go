// Package pipeline drives submitted questions through the dev backend's
// simulated answer workflow and publishes every transition as a push frame.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expertdesk/livesync/internal/clock"
	"github.com/expertdesk/livesync/internal/dispatch"
	"github.com/expertdesk/livesync/internal/domain"
	"github.com/expertdesk/livesync/internal/effects"
	"github.com/expertdesk/livesync/internal/store"
)

const (
	// DefaultStep is the delay between two pipeline transitions.
	DefaultStep = 1500 * time.Millisecond
	// sweepBatch bounds how many questions one sweep advances.
	sweepBatch = 100
	// answerRetention is how many answers a snapshot carries.
	answerRetention = 50
)

// ErrInvalidQuestion is returned by Submit for an empty subject or body.
var ErrInvalidQuestion = errors.New("subject and body are required")

// Publisher delivers a frame to every open session of a user.
type Publisher interface {
	PublishJSON(ctx context.Context, userID string, v interface{}) (int, error)
}

// Config configures a Runner. Zero values select the defaults.
type Config struct {
	Step    time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	Experts []domain.Expert
}

var defaultExperts = []domain.Expert{
	{Name: "Dr. Ada Byron", Avatar: "/avatars/ada.png"},
	{Name: "Prof. Alan Reed", Avatar: "/avatars/alan.png"},
	{Name: "Grace Okafor", Avatar: "/avatars/grace.png"},
}

// Runner owns the question workflow.
type Runner struct {
	repo    store.Repository
	pub     Publisher
	step    time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	experts []domain.Expert
}

// NewRunner creates a runner.
func NewRunner(repo store.Repository, pub Publisher, cfg Config) *Runner {
	r := &Runner{
		repo:    repo,
		pub:     pub,
		step:    cfg.Step,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		experts: cfg.Experts,
	}
	if r.step <= 0 {
		r.step = DefaultStep
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if len(r.experts) == 0 {
		r.experts = defaultExperts
	}
	return r
}

func (r *Runner) timestamp() string {
	return r.clock.Now().UTC().Format(time.RFC3339)
}

// Submit records a new question and announces it.
func (r *Runner) Submit(ctx context.Context, userID, subject, body string) (*domain.QuestionRecord, error) {
	if subject == "" || body == "" {
		return nil, ErrInvalidQuestion
	}

	now := r.clock.Now()
	q := &domain.QuestionRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Subject:    subject,
		Body:       body,
		Status:     domain.StatusProcessing,
		Stage:      domain.StageSubmitted,
		NextStepAt: now.Add(r.step),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.repo.CreateQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("submit question: %w", err)
	}

	r.logger.Info("Question submitted", "question_id", q.ID, "user_id", userID, "subject", subject)
	r.publish(ctx, userID, statusFrame{
		Type:       dispatch.TypeQuestionSubmitted,
		QuestionID: q.ID,
		Subject:    q.Subject,
		Timestamp:  r.timestamp(),
		Preview:    domain.Preview(q.Body),
	})
	return q, nil
}

// AddCredits tops up a balance and pushes the new total.
func (r *Runner) AddCredits(ctx context.Context, userID string, delta float64) (float64, error) {
	total, err := r.repo.AddCredits(ctx, userID, delta)
	if err != nil {
		return 0, err
	}
	r.logger.Info("Credits added", "user_id", userID, "delta", delta, "total", total)
	r.publish(ctx, userID, newCreditFrame(total))
	return total, nil
}

// Notify records an unread notification and pushes it.
func (r *Runner) Notify(ctx context.Context, userID, message, source string) error {
	if source == "" {
		source = "system"
	}
	if _, err := r.repo.IncrementNotifications(ctx, userID); err != nil {
		return err
	}
	r.publish(ctx, userID, newNotificationFrame(message, source))
	return nil
}

// Snapshot returns the state a dashboard seeds itself with.
func (r *Runner) Snapshot(ctx context.Context, userID string) (domain.Snapshot, error) {
	return r.repo.Snapshot(ctx, userID, answerRetention)
}

// Start runs a background goroutine that advances due questions every
// half step until ctx is done. Ticks come from the runner's clock; the next
// tick is armed only after the current sweep finishes, so sweeps never overlap.
func (r *Runner) Start(ctx context.Context) {
	interval := max(r.step/2, time.Millisecond)
	ticks := make(chan struct{}, 1)
	tick := func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	}
	timer := r.clock.AfterFunc(interval, tick)

	go func() {
		defer func() { timer.Stop() }()
		r.logger.Info("Pipeline worker started", "step", r.step)

		for {
			select {
			case <-ticks:
				if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
					r.logger.Error("Pipeline sweep failed", "error", err)
				}
				timer = r.clock.AfterFunc(interval, tick)
			case <-ctx.Done():
				r.logger.Info("Pipeline worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep advances every due question by one stage and returns how many moved.
func (r *Runner) Sweep(ctx context.Context) (int, error) {
	due, err := r.repo.DueQuestions(ctx, r.clock.Now(), sweepBatch)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, q := range due {
		if err := r.advance(ctx, q); err != nil {
			if errors.Is(err, store.ErrStageConflict) {
				r.logger.Debug("Question advanced elsewhere", "question_id", q.ID)
				continue
			}
			r.logger.Warn("Failed to advance question", "error", err, "question_id", q.ID)
			continue
		}
		advanced++
	}
	return advanced, nil
}

func (r *Runner) advance(ctx context.Context, q *domain.QuestionRecord) error {
	prev := q.Stage
	next := *q
	next.Stage = prev + 1
	next.UpdatedAt = r.clock.Now()
	next.NextStepAt = next.UpdatedAt.Add(r.step)

	frame := statusFrame{
		QuestionID: q.ID,
		Subject:    q.Subject,
		Timestamp:  r.timestamp(),
	}

	switch next.Stage {
	case domain.StageAIProcessing:
		next.Status = domain.StatusProcessing
		frame.Type = dispatch.TypeAIProcessingStarted
	case domain.StageHumanized:
		next.Status = domain.StatusReviewing
		frame.Type = dispatch.TypeHumanizationComplete
	case domain.StageExpertAssigned:
		expert := r.pickExpert(q.ID)
		next.Status = domain.StatusReviewing
		next.ExpertName = expert.Name
		next.ExpertAvatar = expert.Avatar
		frame.Type = dispatch.TypeExpertAssigned
		frame.ExpertName = expert.Name
		frame.ExpertAvatar = expert.Avatar
	case domain.StageExpertTyping:
		next.Status = domain.StatusTyping
		frame.Type = dispatch.TypeExpertTyping
	case domain.StageDelivered:
		next.Status = domain.StatusDelivered
		return r.deliver(ctx, &next, prev)
	default:
		return fmt.Errorf("question %s has no stage after %d", q.ID, prev)
	}

	if err := r.repo.UpdateQuestion(ctx, &next, prev); err != nil {
		return err
	}
	r.logger.Debug("Question advanced", "question_id", q.ID, "status", next.Status)
	r.publish(ctx, q.UserID, frame)
	return nil
}

func (r *Runner) deliver(ctx context.Context, q *domain.QuestionRecord, prev domain.Stage) error {
	if err := r.repo.UpdateQuestion(ctx, q, prev); err != nil {
		return err
	}

	expert := q.ExpertName
	if expert == "" {
		expert = r.pickExpert(q.ID).Name
	}
	answer := domain.RecentAnswer{
		ID:        q.ID,
		Question:  q.Body,
		Answer:    fmt.Sprintf("Here is a worked answer to your %s question.", q.Subject),
		Expert:    expert,
		Subject:   q.Subject,
		Timestamp: r.timestamp(),
	}
	if err := r.repo.AddAnswer(ctx, q.UserID, answer); err != nil {
		return err
	}

	r.logger.Info("Answer delivered", "question_id", q.ID, "user_id", q.UserID, "expert", expert)
	r.publish(ctx, q.UserID, answerFrame{
		Type:       dispatch.TypeAnswerDelivered,
		QuestionID: answer.ID,
		Question:   answer.Question,
		Answer:     answer.Answer,
		ExpertName: answer.Expert,
		Subject:    answer.Subject,
		Timestamp:  answer.Timestamp,
	})

	return r.Notify(ctx, q.UserID, fmt.Sprintf("%s answered your %s question", expert, q.Subject), effects.SourceExpert)
}

// pickExpert assigns experts deterministically per question.
func (r *Runner) pickExpert(questionID string) domain.Expert {
	h := fnv.New32a()
	_, _ = h.Write([]byte(questionID))
	return r.experts[h.Sum32()%uint32(len(r.experts))]
}

func (r *Runner) publish(ctx context.Context, userID string, frame interface{}) {
	if r.pub == nil {
		return
	}
	n, err := r.pub.PublishJSON(ctx, userID, frame)
	if err != nil {
		r.logger.Warn("Failed to publish frame", "error", err, "user_id", userID)
		return
	}
	r.logger.Debug("Frame published", "user_id", userID, "sessions", n)
}
