// Package logging builds the zerolog loggers used across the service.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to out. format "console" selects the human
// readable writer, anything else JSON.
func New(level, format string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Recorder is a zerolog hook that keeps a copy of every message as
// "[level] message". It tracks whether a warning or error was seen.
type Recorder struct {
	mu       sync.Mutex
	lines    []string
	problems bool
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}

	label := level.String()
	switch level {
	case zerolog.WarnLevel:
		label = "warning"
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		label = "error"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, "["+label+"] "+strings.TrimSpace(msg))
	if level >= zerolog.WarnLevel {
		r.problems = true
	}
}

// Attach returns logger with the recorder hooked in and its level lowered
// to debug so that the capture is complete.
func (r *Recorder) Attach(logger zerolog.Logger) zerolog.Logger {
	return logger.Hook(r).Level(zerolog.DebugLevel)
}

func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func (r *Recorder) HasProblems() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.problems
}
