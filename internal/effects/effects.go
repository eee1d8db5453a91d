// Package effects defines the user-facing side channel of the live state:
// toast notifications and audio cues.
package effects

import "log/slog"

// Cue is one of the two audio cue categories.
type Cue string

const (
	// CueExpert is played for activity originating from an expert.
	CueExpert Cue = "expert"
	// CueAdmin is played for system and admin activity.
	CueAdmin Cue = "admin"
)

// SourceExpert is the payload source tag that selects CueExpert.
const SourceExpert = "expert"

// CueFor maps the source tag declared in an inbound payload to a cue.
// Only "expert" selects the expert cue; any other tag, including an empty
// one, is system/admin activity.
func CueFor(source string) Cue {
	if source == SourceExpert {
		return CueExpert
	}
	return CueAdmin
}

// Toast is a transient on-screen notification.
type Toast struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// Toaster displays toast notifications.
type Toaster interface {
	Toast(t Toast)
}

// CuePlayer plays audio cues.
type CuePlayer interface {
	Play(c Cue)
}

// LogToaster writes toasts to a structured logger. Headless deployments use
// it in place of a presentation service.
type LogToaster struct {
	Logger *slog.Logger
}

// Toast implements Toaster.
func (l LogToaster) Toast(t Toast) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Toast", "title", t.Title, "message", t.Message, "source", t.Source)
}

// LogCuePlayer writes cue playback to a structured logger.
type LogCuePlayer struct {
	Logger *slog.Logger
}

// Play implements CuePlayer.
func (l LogCuePlayer) Play(c Cue) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Cue", "cue", string(c))
}

// Nop discards all side effects.
type Nop struct{}

// Toast implements Toaster.
func (Nop) Toast(Toast) {}

// Play implements CuePlayer.
func (Nop) Play(Cue) {}

// Tee forwards every side effect to each of its sinks in order.
type Tee struct {
	Toasters []Toaster
	Players  []CuePlayer
}

// Toast implements Toaster.
func (t Tee) Toast(toast Toast) {
	for _, s := range t.Toasters {
		s.Toast(toast)
	}
}

// Play implements CuePlayer.
func (t Tee) Play(c Cue) {
	for _, p := range t.Players {
		p.Play(c)
	}
}
