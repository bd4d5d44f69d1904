package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/hasferrr/mitsuko-client-sub003/internal/llm"
	"github.com/hasferrr/mitsuko-client-sub003/internal/metrics"
	"github.com/hasferrr/mitsuko-client-sub003/internal/persistence"
	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
	"github.com/hasferrr/mitsuko-client-sub003/internal/termmap"
	"github.com/hasferrr/mitsuko-client-sub003/internal/translator"
	"github.com/hasferrr/mitsuko-client-sub003/pkg/log"
)

const (
	defaultBatchConcurrency = 2
	persistTimeout          = 5 * time.Second
)

// Streamer produces a streamed chat completion.
type Streamer interface {
	StreamChatCompletion(ctx context.Context, messages []llm.Message, opts *llm.ChatCompletionOptions) (<-chan llm.StreamChunk, error)
}

// ResultStore keeps snapshots of finished sessions.
type ResultStore interface {
	SaveResult(ctx context.Context, snap session.Snapshot) error
	LoadResult(ctx context.Context, id string) (session.Snapshot, error)
	ListResults(ctx context.Context, limit int) ([]session.Snapshot, error)
	DeleteResult(ctx context.Context, id string) error
}

// Glossaries looks up the saved term map of a language pair.
type Glossaries interface {
	Get(source, target language.Tag) (termmap.TermMap, error)
}

type Options struct {
	// TargetLanguage is used for requests that do not name one.
	TargetLanguage   language.Tag
	BatchConcurrency int
	JSONMode         bool
	// Glossaries fills in the glossary of requests that carry none.
	Glossaries Glossaries
}

// Service runs translation sessions: it streams a completion from the LLM
// into a registered session and stores the final snapshot.
type Service struct {
	registry *session.Registry
	store    ResultStore

	mu       sync.RWMutex
	streamer Streamer
	opts     Options

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	loads   singleflight.Group
}

// New creates a service. store may be nil, in which case results only live
// as long as the registry keeps them.
func New(registry *session.Registry, streamer Streamer, store ResultStore, opts Options) *Service {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = defaultBatchConcurrency
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Service{
		registry: registry,
		store:    store,
		streamer: streamer,
		opts:     opts,
		baseCtx:  baseCtx,
		stop:     stop,
	}
}

// SetStreamer swaps the LLM client used by sessions started afterwards.
func (s *Service) SetStreamer(streamer Streamer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamer = streamer
}

func (s *Service) SetTargetLanguage(tag language.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.TargetLanguage = tag
}

func (s *Service) TargetLanguage() language.Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.TargetLanguage
}

// StartTranslation starts a session in the background and returns its id.
// The session outlives the caller's context; use Cancel to stop it.
func (s *Service) StartTranslation(req translator.Request) (string, error) {
	messages, streamer, err := s.prepare(req)
	if err != nil {
		return "", err
	}

	sess, sctx := s.registry.Start(s.baseCtx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.run(sctx, sess, streamer, messages)
	}()
	return sess.ID(), nil
}

// Translate runs a session to completion and returns its final snapshot.
// Cancelling ctx aborts the session.
func (s *Service) Translate(ctx context.Context, req translator.Request) (session.Snapshot, error) {
	messages, streamer, err := s.prepare(req)
	if err != nil {
		return session.Snapshot{}, err
	}
	sess, sctx := s.registry.Start(ctx)
	return s.run(sctx, sess, streamer, messages)
}

// BatchTranslate translates every request, at most BatchConcurrency at a
// time. Snapshots are returned in request order; a failed request leaves
// its slot with whatever its session recovered. The error joins all
// per-request failures.
func (s *Service) BatchTranslate(ctx context.Context, reqs []translator.Request) ([]session.Snapshot, error) {
	s.mu.RLock()
	limit := s.opts.BatchConcurrency
	s.mu.RUnlock()

	results := make([]session.Snapshot, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			snap, err := s.Translate(ctx, req)
			results[i] = snap
			if err != nil {
				errs[i] = fmt.Errorf("request %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("Batch of %d translations finished", len(reqs))
	return results, errors.Join(errs...)
}

// Cancel aborts a running session.
func (s *Service) Cancel(id string) error {
	if !s.registry.Cancel(id) {
		return NewError(ErrNotFound, "no such session").WithContext("id", id)
	}
	return nil
}

// Result returns the snapshot of a live session, or the stored result of a
// finished one.
func (s *Service) Result(ctx context.Context, id string) (session.Snapshot, error) {
	if sess, ok := s.registry.Get(id); ok {
		return sess.Snapshot(), nil
	}
	if s.store == nil {
		return session.Snapshot{}, NewError(ErrNotFound, "no such session").WithContext("id", id)
	}

	// The load is shared between callers, so it must not die with the
	// context of whichever caller started it.
	v, err, _ := s.loads.Do(id, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		return s.store.LoadResult(loadCtx, id)
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return session.Snapshot{}, NewError(ErrNotFound, "no such session").WithContext("id", id)
	}
	if err != nil {
		return session.Snapshot{}, WrapError(err, ErrUnknown, "load result")
	}
	return v.(session.Snapshot), nil
}

// Delete forgets a finished session and its stored result. A running
// session must be cancelled first, otherwise it would be stored again when
// it stops.
func (s *Service) Delete(ctx context.Context, id string) error {
	if sess, ok := s.registry.Get(id); ok && !sess.State().Terminal() {
		return NewError(ErrValidation, "session is still running").WithContext("id", id)
	}
	removed := s.registry.Remove(id)
	if s.store == nil {
		if !removed {
			return NewError(ErrNotFound, "no such session").WithContext("id", id)
		}
		return nil
	}

	err := s.store.DeleteResult(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		if removed {
			return nil
		}
		return NewError(ErrNotFound, "no such session").WithContext("id", id)
	}
	if err != nil {
		return WrapError(err, ErrUnknown, "delete result")
	}
	log.Info("Session %s deleted", id)
	return nil
}

// List returns live sessions first, then stored results not held in memory.
func (s *Service) List(ctx context.Context, limit int) ([]session.Snapshot, error) {
	live := s.registry.List()
	if s.store == nil {
		return live, nil
	}
	stored, err := s.store.ListResults(ctx, limit)
	if err != nil {
		return nil, WrapError(err, ErrUnknown, "list results")
	}

	seen := make(map[string]struct{}, len(live))
	for _, snap := range live {
		seen[snap.ID] = struct{}{}
	}
	for _, snap := range stored {
		if _, ok := seen[snap.ID]; !ok {
			live = append(live, snap)
		}
	}
	return live, nil
}

// Shutdown aborts background sessions and waits for them to be stored.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) prepare(req translator.Request) ([]llm.Message, Streamer, error) {
	s.mu.RLock()
	streamer := s.streamer
	if req.TargetLanguage == language.Und {
		req.TargetLanguage = s.opts.TargetLanguage
	}
	glossaries := s.opts.Glossaries
	s.mu.RUnlock()

	if streamer == nil {
		return nil, nil, NewError(ErrConfig, "LLM client is not configured")
	}
	if glossaries != nil && len(req.Glossary) == 0 && req.Validate() == nil {
		req = withStoredGlossary(glossaries, req)
	}
	messages, err := translator.Messages(req)
	if err != nil {
		return nil, nil, WrapError(err, ErrValidation, "invalid translation request")
	}
	return messages, streamer, nil
}

// withStoredGlossary attaches the saved term map of the request's language
// pair, detecting the source language if needed.
func withStoredGlossary(glossaries Glossaries, req translator.Request) translator.Request {
	if req.SourceLanguage == language.Und {
		req.SourceLanguage = translator.DetectLanguage(req.Subtitles)
		if req.SourceLanguage == language.Und {
			return req
		}
	}
	tm, err := glossaries.Get(req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		log.Warn("Failed to load glossary %s-%s: %v", req.SourceLanguage, req.TargetLanguage, err)
		return req
	}
	req.Glossary = tm
	return req
}

func (s *Service) run(ctx context.Context, sess *session.Session, streamer Streamer, messages []llm.Message) (session.Snapshot, error) {
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	log.Info("Session %s started", sess.ID())
	err := SafeExecute(func() error {
		upstream, err := streamer.StreamChatCompletion(ctx, messages, s.completionOptions())
		if err != nil {
			appErr := classifyUpstream(err)
			sess.Fail(appErr)
			return appErr
		}
		_, err = sess.Consume(ctx, forward(ctx, upstream))
		return err
	})
	if err != nil && !sess.State().Terminal() {
		sess.Fail(err)
	}

	snap := sess.Snapshot()
	s.persist(snap)
	if err != nil {
		log.Warn("Session %s failed with %d records recovered: %v", sess.ID(), len(snap.Subtitles), err)
		return snap, classifySession(err)
	}
	log.Info("Session %s complete with %d records", sess.ID(), len(snap.Subtitles))
	return snap, nil
}

func (s *Service) completionOptions() *llm.ChatCompletionOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return llm.NewChatCompletionOptions().WithJSONMode(s.opts.JSONMode)
}

func (s *Service) persist(snap session.Snapshot) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.SaveResult(ctx, snap); err != nil {
		log.Error("Failed to store result of session %s: %v", snap.ID, err)
	}
}

// forward adapts LLM stream chunks to session chunks. An upstream error is
// first written into the buffer as an <error> span, so it shows in the raw
// text while the parsers skip it. The output is left open when ctx is
// cancelled so the session treats the stream as aborted, not finished.
func forward(ctx context.Context, upstream <-chan llm.StreamChunk) <-chan session.Chunk {
	out := make(chan session.Chunk)
	go func() {
		send := func(chunk session.Chunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range upstream {
			if chunk.Err != nil {
				appErr := classifyUpstream(chunk.Err)
				text := fmt.Sprintf("<error>[An error occurred: %v]</error>", chunk.Err)
				if send(session.Chunk{Text: text}) {
					send(session.Chunk{Err: appErr})
				}
				return
			}
			if chunk.Content == "" {
				continue
			}
			if !send(session.Chunk{Text: chunk.Content}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		close(out)
	}()
	return out
}
