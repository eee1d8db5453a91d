package effects

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestCueFor(t *testing.T) {
	cases := map[string]Cue{
		"expert": CueExpert,
		"system": CueAdmin,
		"admin":  CueAdmin,
		"":       CueAdmin,
		"Expert": CueAdmin,
	}
	for source, want := range cases {
		if got := CueFor(source); got != want {
			t.Errorf("CueFor(%q) = %q, want %q", source, got, want)
		}
	}
}

func TestLogToasterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogToaster{Logger: logger}.Toast(Toast{Title: "Notification", Message: "hello", Source: "system"})
	LogCuePlayer{Logger: logger}.Play(CueAdmin)

	out := buf.String()
	for _, want := range []string{`"message":"hello"`, `"source":"system"`, `"cue":"admin"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log output: %s", want, out)
		}
	}
}

type recorder struct {
	toasts []Toast
	cues   []Cue
}

func (r *recorder) Toast(t Toast) { r.toasts = append(r.toasts, t) }
func (r *recorder) Play(c Cue)    { r.cues = append(r.cues, c) }

func TestTeeFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	tee := Tee{Toasters: []Toaster{a, b}, Players: []CuePlayer{a, Nop{}, b}}

	tee.Toast(Toast{Title: "x"})
	tee.Play(CueExpert)

	for i, r := range []*recorder{a, b} {
		if len(r.toasts) != 1 || r.toasts[0].Title != "x" {
			t.Errorf("sink %d: unexpected toasts %+v", i, r.toasts)
		}
		if len(r.cues) != 1 || r.cues[0] != CueExpert {
			t.Errorf("sink %d: unexpected cues %+v", i, r.cues)
		}
	}
}
