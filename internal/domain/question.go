// Package domain contains core domain types for the live question-answering state.
package domain

// Status is the lifecycle position of a question as seen by the viewer.
type Status string

const (
	// StatusProcessing indicates the question is queued for or undergoing AI processing.
	StatusProcessing Status = "processing"
	// StatusReviewing indicates an expert is reviewing the AI draft.
	StatusReviewing Status = "reviewing"
	// StatusTyping indicates the assigned expert is composing the answer.
	StatusTyping Status = "typing"
	// StatusDelivered indicates the answer has been delivered.
	StatusDelivered Status = "delivered"
)

// Valid reports whether s is one of the known lifecycle statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusReviewing, StatusTyping, StatusDelivered:
		return true
	}
	return false
}

// Expert identifies the expert assigned to a question.
type Expert struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// LiveQuestion is a question currently in flight from the viewer's perspective.
type LiveQuestion struct {
	ID        string  `json:"id"`
	Subject   string  `json:"subject"`
	Status    Status  `json:"status"`
	Expert    *Expert `json:"expert,omitempty"`
	Timestamp string  `json:"timestamp"`
	Preview   string  `json:"preview,omitempty"`
}

// Active returns true until the question has been delivered.
func (q LiveQuestion) Active() bool {
	return q.Status != StatusDelivered
}

// QuestionPatch carries the fields of a partial update. Nil fields are left untouched.
type QuestionPatch struct {
	Subject   *string
	Status    *Status
	Expert    *Expert
	Timestamp *string
	Preview   *string

	// DefaultTimestamp fills the timestamp only when neither the patch nor
	// the question carries one.
	DefaultTimestamp *string
}

// Apply merges the patch into q and returns the result.
func (p QuestionPatch) Apply(q LiveQuestion) LiveQuestion {
	if p.Subject != nil {
		q.Subject = *p.Subject
	}
	if p.Status != nil {
		q.Status = *p.Status
	}
	if p.Expert != nil {
		expert := *p.Expert
		q.Expert = &expert
	}
	if p.Timestamp != nil {
		q.Timestamp = *p.Timestamp
	} else if p.DefaultTimestamp != nil && q.Timestamp == "" {
		q.Timestamp = *p.DefaultTimestamp
	}
	if p.Preview != nil {
		q.Preview = *p.Preview
	}
	return q
}

// PatchFrom builds a patch carrying only the non-empty fields of q.
func PatchFrom(q LiveQuestion) QuestionPatch {
	var p QuestionPatch
	if q.Subject != "" {
		p.Subject = &q.Subject
	}
	if q.Status != "" {
		p.Status = &q.Status
	}
	if q.Expert != nil {
		p.Expert = q.Expert
	}
	if q.Timestamp != "" {
		p.Timestamp = &q.Timestamp
	}
	if q.Preview != "" {
		p.Preview = &q.Preview
	}
	return p
}

// RecentAnswer is a finalized delivered answer. It is never modified after creation.
type RecentAnswer struct {
	ID        string   `json:"id"`
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Expert    string   `json:"expert"`
	Subject   string   `json:"subject"`
	Timestamp string   `json:"timestamp"`
	Image     string   `json:"image,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
}

// Snapshot is the full read model of the live state. The REST layer returns
// the same shape to seed a fresh store.
type Snapshot struct {
	Questions     []LiveQuestion `json:"questions"`
	RecentAnswers []RecentAnswer `json:"recent_answers"`
	Notifications int            `json:"notifications"`
	Credits       float64        `json:"credits"`
}
