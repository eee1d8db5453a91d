// Package dispatch turns raw push-channel frames into live-state mutations
// and user-facing side effects.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/expertdesk/livesync/internal/clock"
	"github.com/expertdesk/livesync/internal/domain"
	"github.com/expertdesk/livesync/internal/effects"
)

var (
	errMissingQuestionID = errors.New("missing question_id")
	errMissingCredits    = errors.New("missing credits")
)

// Store is the set of live-state mutators the dispatcher drives.
type Store interface {
	MergeLiveQuestion(id string, patch domain.QuestionPatch)
	UpdateQuestionStatus(id string, patch domain.QuestionPatch) bool
	AddRecentAnswer(a domain.RecentAnswer) bool
	IncrementNotifications()
	SetCredits(v float64)
}

type handlerFunc func(d *Dispatcher, raw []byte) error

// handlers is the fixed routing table. Each handler performs exactly one
// store mutation.
var handlers = map[string]handlerFunc{
	TypeQuestionSubmitted:    (*Dispatcher).questionSubmitted,
	TypeAIProcessingStarted:  statusHandler(domain.StatusProcessing),
	TypeHumanizationComplete: statusHandler(domain.StatusReviewing),
	TypeExpertAssigned:       (*Dispatcher).expertAssigned,
	TypeExpertTyping:         statusHandler(domain.StatusTyping),
	TypeAnswerDelivered:      (*Dispatcher).answerDelivered,
	TypeNotification:         (*Dispatcher).notification,
	TypeCreditAdded:          (*Dispatcher).creditAdded,
}

// Config holds the dispatcher's collaborators. Nil fields fall back to
// no-op side effects, the real clock and slog.Default().
type Config struct {
	Toaster effects.Toaster
	Cues    effects.CuePlayer
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Stats counts frames by outcome.
type Stats struct {
	Applied   int64 `json:"applied"`
	Malformed int64 `json:"malformed"`
	Unknown   int64 `json:"unknown"`
	Rejected  int64 `json:"rejected"`
}

// Dispatcher routes frames by their type field.
type Dispatcher struct {
	store   Store
	toaster effects.Toaster
	cues    effects.CuePlayer
	clock   clock.Clock
	logger  *slog.Logger

	applied, malformed, unknown, rejected atomic.Int64
}

// New creates a dispatcher that applies frames to store.
func New(store Store, cfg Config) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		toaster: cfg.Toaster,
		cues:    cfg.Cues,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
	if d.toaster == nil {
		d.toaster = effects.Nop{}
	}
	if d.cues == nil {
		d.cues = effects.Nop{}
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Dispatch parses one frame and applies it. It never panics and never
// returns an error: malformed frames and unknown types are logged and dropped.
func (d *Dispatcher) Dispatch(raw string) {
	data := []byte(raw)

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.malformed.Add(1)
		d.logger.Warn("Dropping malformed frame", "error", err, "frame_len", len(raw))
		return
	}

	handle, ok := handlers[env.Type]
	if !ok {
		d.unknown.Add(1)
		d.logger.Debug("Ignoring unknown frame type", "type", env.Type)
		return
	}

	if err := handle(d, data); err != nil {
		d.rejected.Add(1)
		d.logger.Warn("Dropping frame", "type", env.Type, "error", err)
		return
	}
	d.applied.Add(1)
}

// Stats returns frame counters since creation.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Applied:   d.applied.Load(),
		Malformed: d.malformed.Load(),
		Unknown:   d.unknown.Load(),
		Rejected:  d.rejected.Load(),
	}
}

func (d *Dispatcher) now() string {
	return d.clock.Now().UTC().Format(time.RFC3339)
}

func decodeStatus(raw []byte) (statusEvent, error) {
	var ev statusEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("decode payload: %w", err)
	}
	if ev.QuestionID == "" {
		return ev, errMissingQuestionID
	}
	return ev, nil
}

// patch builds the partial update carried by a status event.
func (d *Dispatcher) patch(ev statusEvent, status domain.Status) domain.QuestionPatch {
	p := domain.QuestionPatch{Status: &status}
	if ev.Timestamp != "" {
		p.Timestamp = &ev.Timestamp
	} else {
		// Redelivery must not move an already known timestamp.
		now := d.now()
		p.DefaultTimestamp = &now
	}
	if ev.Subject != "" {
		p.Subject = &ev.Subject
	}
	if ev.Preview != "" {
		p.Preview = &ev.Preview
	}
	if ev.ExpertName != "" {
		p.Expert = &domain.Expert{Name: ev.ExpertName, Avatar: ev.ExpertAvatar}
	}
	return p
}

func (d *Dispatcher) questionSubmitted(raw []byte) error {
	ev, err := decodeStatus(raw)
	if err != nil {
		return err
	}
	d.store.MergeLiveQuestion(string(ev.QuestionID), d.patch(ev, domain.StatusProcessing))
	return nil
}

func statusHandler(status domain.Status) handlerFunc {
	return func(d *Dispatcher, raw []byte) error {
		ev, err := decodeStatus(raw)
		if err != nil {
			return err
		}
		if !d.store.UpdateQuestionStatus(string(ev.QuestionID), d.patch(ev, status)) {
			d.logger.Debug("Status update for unknown question", "question_id", ev.QuestionID, "status", status)
		}
		return nil
	}
}

func (d *Dispatcher) expertAssigned(raw []byte) error {
	ev, err := decodeStatus(raw)
	if err != nil {
		return err
	}
	if ev.ExpertName == "" {
		d.logger.Debug("expert_assigned without expert_name", "question_id", ev.QuestionID)
	}
	if !d.store.UpdateQuestionStatus(string(ev.QuestionID), d.patch(ev, domain.StatusReviewing)) {
		d.logger.Debug("Expert assigned to unknown question", "question_id", ev.QuestionID)
	}
	return nil
}

func (d *Dispatcher) answerDelivered(raw []byte) error {
	var ev answerDeliveredEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if ev.QuestionID == "" {
		return errMissingQuestionID
	}
	ts := ev.Timestamp
	if ts == "" {
		ts = d.now()
	}

	added := d.store.AddRecentAnswer(domain.RecentAnswer{
		ID:        string(ev.QuestionID),
		Question:  ev.Question,
		Answer:    ev.Answer,
		Expert:    ev.ExpertName,
		Subject:   ev.Subject,
		Timestamp: ts,
		Image:     ev.Image,
		Rating:    ev.Rating,
	})
	if !added {
		d.logger.Debug("Duplicate answer_delivered", "question_id", ev.QuestionID)
		return nil
	}

	d.toaster.Toast(effects.Toast{
		Title:   "Answer delivered",
		Message: answerToastMessage(ev),
		Source:  effects.SourceExpert,
	})
	d.cues.Play(effects.CueExpert)
	return nil
}

func answerToastMessage(ev answerDeliveredEvent) string {
	switch {
	case ev.Subject != "" && ev.ExpertName != "":
		return fmt.Sprintf("Your %s question was answered by %s", ev.Subject, ev.ExpertName)
	case ev.ExpertName != "":
		return "Your question was answered by " + ev.ExpertName
	default:
		return "Your question has been answered"
	}
}

func (d *Dispatcher) notification(raw []byte) error {
	var ev notificationEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	d.store.IncrementNotifications()

	cue := effects.CueFor(ev.Source)
	title := "System notification"
	if cue == effects.CueExpert {
		title = "Message from your expert"
	}
	d.toaster.Toast(effects.Toast{Title: title, Message: ev.Message, Source: ev.Source})
	d.cues.Play(cue)
	return nil
}

func (d *Dispatcher) creditAdded(raw []byte) error {
	var ev creditAddedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if ev.Credits == nil {
		return errMissingCredits
	}
	d.store.SetCredits(*ev.Credits)
	return nil
}
