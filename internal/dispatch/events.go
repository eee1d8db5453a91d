package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound frame types.
const (
	TypeQuestionSubmitted    = "question_submitted"
	TypeAIProcessingStarted  = "ai_processing_started"
	TypeHumanizationComplete = "humanization_complete"
	TypeExpertAssigned       = "expert_assigned"
	TypeExpertTyping         = "expert_typing"
	TypeAnswerDelivered      = "answer_delivered"
	TypeNotification         = "notification"
	TypeCreditAdded          = "credit_added"
)

// envelope carries the discriminant shared by every frame.
type envelope struct {
	Type string `json:"type"`
}

// questionID accepts either a JSON string or a JSON number, since backends
// differ in how they serialize primary keys.
type questionID string

func (q *questionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = questionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("question_id: %w", err)
	}
	*q = questionID(n.String())
	return nil
}

// statusEvent covers every question-scoped status transition.
type statusEvent struct {
	QuestionID   questionID `json:"question_id"`
	Subject      string     `json:"subject,omitempty"`
	Timestamp    string     `json:"timestamp,omitempty"`
	Preview      string     `json:"preview,omitempty"`
	ExpertName   string     `json:"expert_name,omitempty"`
	ExpertAvatar string     `json:"expert_avatar,omitempty"`
}

type answerDeliveredEvent struct {
	QuestionID questionID `json:"question_id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	ExpertName string     `json:"expert_name"`
	Subject    string     `json:"subject"`
	Timestamp  string     `json:"timestamp"`
	Image      string     `json:"image,omitempty"`
	Rating     *float64   `json:"rating,omitempty"`
}

type notificationEvent struct {
	Message string `json:"message"`
	Source  string `json:"source"`
}

type creditAddedEvent struct {
	Credits *float64 `json:"credits"`
}
