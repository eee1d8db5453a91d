package domain

import (
	"strings"
	"time"
)

// Account is the dev backend's per-user record: balances and unread counts
// that seed a dashboard.
type Account struct {
	UserID        string    `json:"user_id"`
	Credits       float64   `json:"credits"`
	Notifications int       `json:"notifications"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Stage is a question's position in the dev backend's answer pipeline.
type Stage int

const (
	StageSubmitted Stage = iota
	StageAIProcessing
	StageHumanized
	StageExpertAssigned
	StageExpertTyping
	StageDelivered
)

// Final reports whether the pipeline has nothing left to do.
func (s Stage) Final() bool {
	return s >= StageDelivered
}

// QuestionRecord is a persisted question as the producer sees it.
type QuestionRecord struct {
	ID           string
	UserID       string
	Subject      string
	Body         string
	Status       Status
	ExpertName   string
	ExpertAvatar string
	Stage        Stage
	NextStepAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Live returns the record as a dashboard sees it.
func (r *QuestionRecord) Live() LiveQuestion {
	q := LiveQuestion{
		ID:        r.ID,
		Subject:   r.Subject,
		Status:    r.Status,
		Timestamp: r.UpdatedAt.UTC().Format(time.RFC3339),
		Preview:   Preview(r.Body),
	}
	if r.ExpertName != "" {
		q.Expert = &Expert{Name: r.ExpertName, Avatar: r.ExpertAvatar}
	}
	return q
}

// previewLen bounds question previews, in runes.
const previewLen = 80

// Preview shortens body to a single-line teaser.
func Preview(body string) string {
	runes := []rune(strings.Join(strings.Fields(body), " "))
	if len(runes) <= previewLen {
		return string(runes)
	}
	return string(runes[:previewLen-1]) + "…"
}
