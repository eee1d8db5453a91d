package pipeline

import "github.com/expertdesk/livesync/internal/dispatch"

// Frames published to dashboards. Field names follow the push protocol
// consumed by package dispatch.

type statusFrame struct {
	Type         string `json:"type"`
	QuestionID   string `json:"question_id"`
	Subject      string `json:"subject,omitempty"`
	Timestamp    string `json:"timestamp"`
	Preview      string `json:"preview,omitempty"`
	ExpertName   string `json:"expert_name,omitempty"`
	ExpertAvatar string `json:"expert_avatar,omitempty"`
}

type answerFrame struct {
	Type       string   `json:"type"`
	QuestionID string   `json:"question_id"`
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	ExpertName string   `json:"expert_name"`
	Subject    string   `json:"subject"`
	Timestamp  string   `json:"timestamp"`
	Image      string   `json:"image,omitempty"`
	Rating     *float64 `json:"rating,omitempty"`
}

type notificationFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

type creditFrame struct {
	Type    string  `json:"type"`
	Credits float64 `json:"credits"`
}

func newNotificationFrame(message, source string) notificationFrame {
	return notificationFrame{Type: dispatch.TypeNotification, Message: message, Source: source}
}

func newCreditFrame(total float64) creditFrame {
	return creditFrame{Type: dispatch.TypeCreditAdded, Credits: total}
}
