package session

import (
	"errors"
	"time"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
)

type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

var (
	// ErrAborted is the failure cause of a session whose context was cancelled.
	ErrAborted = errors.New("stream aborted")
	// ErrClosed is returned when appending to or finishing a terminal session.
	ErrClosed = errors.New("session already finished")
)

// Chunk is one piece of a streamed response, or the error that ended it.
type Chunk struct {
	Text string
	Err  error
}

// Snapshot is a point-in-time copy of a session, safe to hand to other goroutines.
type Snapshot struct {
	ID          string                      `json:"id"`
	State       State                       `json:"state"`
	Subtitles   []jsonstream.SubtitleRecord `json:"subtitles"`
	Raw         string                      `json:"raw"`
	Chunks      int                         `json:"chunks"`
	Error       string                      `json:"error,omitempty"`
	ParseFailed bool                        `json:"parse_failed,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// Observer is notified about parse and lifecycle events. Calls are made
// while the session lock is held, so implementations must not call back
// into the session.
type Observer interface {
	LiveParsed(records int)
	StrictParsed(err error)
	Finished(state State)
}

type nopObserver struct{}

func (nopObserver) LiveParsed(int)     {}
func (nopObserver) StrictParsed(error) {}
func (nopObserver) Finished(State)     {}

// Options tune every session a registry creates.
type Options struct {
	// ParseInterval throttles live parsing: a chunk arriving sooner than this
	// after the previous parse is only buffered. Zero parses every chunk.
	ParseInterval time.Duration
	Observer      Observer
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
