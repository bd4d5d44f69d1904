package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
	"github.com/hasferrr/mitsuko-client-sub003/pkg/log"
)

// Session owns the buffer of one streaming request and the records parsed
// from it. Records only ever grow while streaming and are kept when the
// session fails.
type Session struct {
	id        string
	createdAt time.Time
	opts      Options

	mu          sync.RWMutex
	state       State
	buf         Buffer
	records     []jsonstream.SubtitleRecord
	err         error
	parseFailed bool
	dirty       bool
	lastParse   time.Time
	updatedAt   time.Time

	done     chan struct{}
	doneOnce sync.Once
}

func New(id string, opts Options) *Session {
	opts = opts.withDefaults()
	now := opts.Now()
	return &Session{
		id:        id,
		createdAt: now,
		updatedAt: now,
		opts:      opts,
		state:     StateIdle,
		records:   []jsonstream.SubtitleRecord{},
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Begin moves an idle session to streaming.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("begin session %s in state %s", s.id, s.state)
	}
	s.state = StateStreaming
	s.updatedAt = s.opts.Now()
	return nil
}

// Append adds a chunk and, unless throttled, re-parses the whole buffer.
// It returns the records currently known.
func (s *Session) Append(chunk string) ([]jsonstream.SubtitleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		s.state = StateStreaming
	case StateStreaming:
	default:
		return nil, ErrClosed
	}

	s.buf.Append(chunk)
	now := s.opts.Now()
	s.updatedAt = now
	s.dirty = true
	if s.opts.ParseInterval <= 0 || now.Sub(s.lastParse) >= s.opts.ParseInterval {
		s.liveParseLocked(now)
	}
	return cloneRecords(s.records), nil
}

// Complete validates the full buffer strictly. On success the strict
// records replace the live ones. On failure the session fails, keeps the
// best live result and its display text gets the failure marker.
func (s *Session) Complete() ([]jsonstream.SubtitleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil, ErrClosed
	}

	now := s.opts.Now()
	records, err := jsonstream.ParseTranslationArrayStrict(s.buf.String())
	s.opts.Observer.StrictParsed(err)
	if err != nil {
		if s.dirty {
			s.liveParseLocked(now)
		}
		s.parseFailed = true
		s.finishLocked(StateFailed, err, now)
		log.Warn("Session %s failed final validation: %v", s.id, err)
		return nil, err
	}

	s.records = records
	s.dirty = false
	s.finishLocked(StateComplete, nil, now)
	return cloneRecords(records), nil
}

// Fail ends the session without a strict parse. Records parsed so far stay.
func (s *Session) Fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.finishLocked(StateFailed, cause, s.opts.Now())
	log.Info("Session %s stopped after %d chunks: %v", s.id, s.buf.Chunks(), cause)
}

// Consume reads chunks until the channel closes, a chunk carries an error or
// ctx is cancelled. Cancellation is only noticed between chunks; whatever
// was buffered but not yet parsed is dropped without a strict parse.
func (s *Session) Consume(ctx context.Context, chunks <-chan Chunk) ([]jsonstream.SubtitleRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			cause := fmt.Errorf("%w: %w", ErrAborted, err)
			s.Fail(cause)
			return nil, cause
		}

		select {
		case <-ctx.Done():
			continue
		case chunk, ok := <-chunks:
			if !ok {
				return s.Complete()
			}
			if chunk.Err != nil {
				s.Fail(chunk.Err)
				return nil, chunk.Err
			}
			if _, err := s.Append(chunk.Text); err != nil {
				return nil, err
			}
		}
	}
}

// Records returns the records currently known.
func (s *Session) Records() []jsonstream.SubtitleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecords(s.records)
}

// Err returns why the session failed, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// DisplayText is the raw output as shown to the user, with the failure
// marker appended after a failed final validation.
func (s *Session) DisplayText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayTextLocked()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:          s.id,
		State:       s.state,
		Subtitles:   cloneRecords(s.records),
		Raw:         s.displayTextLocked(),
		Chunks:      s.buf.Chunks(),
		ParseFailed: s.parseFailed,
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func (s *Session) displayTextLocked() string {
	raw := s.buf.String()
	if !s.parseFailed {
		return raw
	}
	return raw + "\n\n" + jsonstream.FailedToParseMarker
}

func (s *Session) liveParseLocked(now time.Time) {
	records := jsonstream.ParseTranslationJSON(s.buf.String())
	// a late <think> tag can hide text that was parsed before; what was
	// already shown is never rolled back
	if len(records) >= len(s.records) {
		s.records = records
	}
	s.dirty = false
	s.lastParse = now
	s.opts.Observer.LiveParsed(len(records))
}

func (s *Session) finishLocked(state State, err error, now time.Time) {
	s.state = state
	s.err = err
	s.updatedAt = now
	s.opts.Observer.Finished(state)
	s.doneOnce.Do(func() { close(s.done) })
}

func cloneRecords(records []jsonstream.SubtitleRecord) []jsonstream.SubtitleRecord {
	ret := make([]jsonstream.SubtitleRecord, len(records))
	copy(ret, records)
	return ret
}
