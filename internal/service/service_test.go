package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
	"github.com/hasferrr/mitsuko-client-sub003/internal/llm"
	"github.com/hasferrr/mitsuko-client-sub003/internal/persistence"
	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
	"github.com/hasferrr/mitsuko-client-sub003/internal/termmap"
	"github.com/hasferrr/mitsuko-client-sub003/internal/translator"
)

const validDocument = `{"subtitles":[{"index":1,"content":"Hello","translated":"Bonjour"},{"index":2,"content":"Bye","translated":"Salut"}]}`

type scriptedStreamer struct {
	chunks []llm.StreamChunk
	err    error
	// hold keeps the stream open after the last chunk until ctx is done.
	hold  bool
	delay time.Duration

	mu    sync.Mutex
	calls [][]llm.Message

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *scriptedStreamer) StreamChatCompletion(ctx context.Context, messages []llm.Message, _ *llm.ChatCompletionOptions) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	n := f.inflight.Add(1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer f.inflight.Add(-1)
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		for _, c := range f.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (f *scriptedStreamer) firstCall() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[0]
}

func chunked(text string, size int) []llm.StreamChunk {
	var ret []llm.StreamChunk
	for len(text) > 0 {
		n := min(size, len(text))
		ret = append(ret, llm.StreamChunk{Content: text[:n]})
		text = text[n:]
	}
	return ret
}

func testRequest() translator.Request {
	return translator.Request{
		SourceLanguage: language.English,
		TargetLanguage: language.French,
		Subtitles: []jsonstream.SubtitleRecord{
			{Index: 1, Content: "Hello"},
			{Index: 2, Content: "Bye"},
		},
	}
}

func newTestService(t *testing.T, streamer Streamer, opts Options) (*Service, *session.Registry, *persistence.SQLiteStore) {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "mitsuko.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := session.NewRegistry(session.Options{})
	svc := New(registry, streamer, store, opts)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, registry, store
}

func TestTranslate_CompletesAndStoresResult(t *testing.T) {
	t.Parallel()

	streamer := &scriptedStreamer{chunks: chunked(validDocument, 7)}
	svc, registry, _ := newTestService(t, streamer, Options{})

	snap, err := svc.Translate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, session.StateComplete, snap.State)
	require.Len(t, snap.Subtitles, 2)
	assert.Equal(t, "Salut", snap.Subtitles[1].Translated)
	assert.Equal(t, validDocument, snap.Raw)

	// once the registry forgets the session it is served from the store
	require.True(t, registry.Remove(snap.ID))
	stored, err := svc.Result(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Subtitles, stored.Subtitles)
	assert.Equal(t, session.StateComplete, stored.State)
}

func TestTranslate_FinalValidationFailureKeepsRecords(t *testing.T) {
	t.Parallel()

	broken := `{"subtitles":[{"index":1,"content":"Hello","translated":"Bonjour"},{"index":2,"content":"Bye"}]}`
	svc, _, _ := newTestService(t, &scriptedStreamer{chunks: chunked(broken, 5)}, Options{})

	snap, err := svc.Translate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrParse))
	assert.True(t, jsonstream.IsParseError(err))

	assert.Equal(t, session.StateFailed, snap.State)
	assert.True(t, snap.ParseFailed)
	require.Len(t, snap.Subtitles, 1)
	assert.Equal(t, "Bonjour", snap.Subtitles[0].Translated)
}

func TestTranslate_UpstreamErrorIsWrittenAsErrorSpan(t *testing.T) {
	t.Parallel()

	chunks := chunked(`{"subtitles":[{"index":1,"content":"Hello","translated":"Bonjour"},`, 9)
	chunks = append(chunks, llm.StreamChunk{Err: errors.New("connection reset")})
	svc, _, _ := newTestService(t, &scriptedStreamer{chunks: chunks}, Options{})

	snap, err := svc.Translate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrNetwork))

	assert.Equal(t, session.StateFailed, snap.State)
	assert.Contains(t, snap.Raw, "<error>[An error occurred: connection reset]</error>")
	require.Len(t, snap.Subtitles, 1)
	assert.Equal(t, 1, snap.Subtitles[0].Index)
}

func TestTranslate_UpstreamRejected(t *testing.T) {
	t.Parallel()

	apiErr := &llm.Error{Message: "invalid key", Type: "auth"}
	svc, _, _ := newTestService(t, &scriptedStreamer{err: apiErr}, Options{})

	snap, err := svc.Translate(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrAPI))
	assert.Equal(t, session.StateFailed, snap.State)
	assert.Empty(t, snap.Subtitles)
}

func TestTranslate_RequestErrors(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, &scriptedStreamer{chunks: chunked(validDocument, 10)}, Options{})

	_, err := svc.Translate(context.Background(), translator.Request{TargetLanguage: language.French})
	assert.True(t, IsErrorType(err, ErrValidation))

	_, err = svc.Translate(context.Background(), translator.Request{Subtitles: testRequest().Subtitles})
	assert.True(t, IsErrorType(err, ErrValidation), "no default target language")

	unconfigured, _, _ := newTestService(t, nil, Options{})
	_, err = unconfigured.Translate(context.Background(), testRequest())
	assert.True(t, IsErrorType(err, ErrConfig))
}

func TestTranslate_UsesDefaultTargetLanguage(t *testing.T) {
	t.Parallel()

	streamer := &scriptedStreamer{chunks: chunked(validDocument, 10)}
	svc, _, _ := newTestService(t, streamer, Options{TargetLanguage: language.Japanese})

	req := testRequest()
	req.TargetLanguage = language.Und
	_, err := svc.Translate(context.Background(), req)
	require.NoError(t, err)

	messages := streamer.firstCall()
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0].Content, "to Japanese")

	svc.SetTargetLanguage(language.German)
	assert.Equal(t, language.German, svc.TargetLanguage())
}

func TestTranslate_UsesStoredGlossary(t *testing.T) {
	t.Parallel()

	glossaries := termmap.NewDir(t.TempDir())
	require.NoError(t, glossaries.Put(language.English, language.French, termmap.TermMap{"Hello": "Salut"}))

	streamer := &scriptedStreamer{chunks: chunked(validDocument, 10)}
	svc, _, _ := newTestService(t, streamer, Options{Glossaries: glossaries})

	_, err := svc.Translate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Contains(t, streamer.firstCall()[0].Content, "- Hello -> Salut")

	// a request glossary wins over the stored one
	other := &scriptedStreamer{chunks: chunked(validDocument, 10)}
	svc.SetStreamer(other)
	req := testRequest()
	req.Glossary = termmap.TermMap{"Bye": "Adieu"}
	_, err = svc.Translate(context.Background(), req)
	require.NoError(t, err)
	system := other.firstCall()[0].Content
	assert.Contains(t, system, "- Bye -> Adieu")
	assert.NotContains(t, system, "Salut")
}

func TestStartTranslation_Cancel(t *testing.T) {
	t.Parallel()

	partial := `{"subtitles":[{"index":1,"content":"Hello","translated":"Bonjour"},`
	svc, _, store := newTestService(t, &scriptedStreamer{chunks: chunked(partial, 8), hold: true}, Options{})

	id, err := svc.StartTranslation(testRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := svc.Result(context.Background(), id)
		return err == nil && len(snap.Subtitles) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Cancel(id))

	require.Eventually(t, func() bool {
		snap, err := store.LoadResult(context.Background(), id)
		return err == nil && snap.State == session.StateFailed
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := svc.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, snap.Error, session.ErrAborted.Error())
	assert.Len(t, snap.Subtitles, 1)
	assert.False(t, snap.ParseFailed)
}

func TestShutdown_AbortsBackgroundSessions(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t, &scriptedStreamer{hold: true}, Options{})

	id, err := svc.StartTranslation(testRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	snap, err := store.LoadResult(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StateFailed, snap.State)
}

func TestBatchTranslate_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	streamer := &scriptedStreamer{chunks: chunked(validDocument, 16), delay: 20 * time.Millisecond}
	svc, _, _ := newTestService(t, streamer, Options{BatchConcurrency: 2})

	reqs := []translator.Request{testRequest(), testRequest(), {TargetLanguage: language.French}, testRequest(), testRequest()}
	results, err := svc.BatchTranslate(context.Background(), reqs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 2")
	assert.True(t, IsErrorType(err, ErrValidation))

	require.Len(t, results, len(reqs))
	for i, snap := range results {
		if i == 2 {
			assert.Empty(t, snap.ID)
			continue
		}
		assert.Equal(t, session.StateComplete, snap.State, "request %d", i)
		assert.Len(t, snap.Subtitles, 2)
	}
	assert.LessOrEqual(t, streamer.maxInflight.Load(), int32(2))
}

func TestCancelAndResult_Unknown(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, &scriptedStreamer{}, Options{})

	assert.True(t, IsErrorType(svc.Cancel("missing"), ErrNotFound))
	_, err := svc.Result(context.Background(), "missing")
	assert.True(t, IsErrorType(err, ErrNotFound))
}

func TestList_MergesLiveAndStored(t *testing.T) {
	t.Parallel()

	svc, registry, _ := newTestService(t, &scriptedStreamer{chunks: chunked(validDocument, 32)}, Options{})

	first, err := svc.Translate(context.Background(), testRequest())
	require.NoError(t, err)
	second, err := svc.Translate(context.Background(), testRequest())
	require.NoError(t, err)
	registry.Remove(first.ID)

	all, err := svc.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)
}

func TestResult_StoredLoadIgnoresCallerCancel(t *testing.T) {
	t.Parallel()

	svc, registry, _ := newTestService(t, &scriptedStreamer{chunks: chunked(validDocument, 32)}, Options{})

	snap, err := svc.Translate(context.Background(), testRequest())
	require.NoError(t, err)
	require.True(t, registry.Remove(snap.ID))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stored, err := svc.Result(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Subtitles, stored.Subtitles)
}

func TestDelete_RemovesLiveAndStored(t *testing.T) {
	t.Parallel()

	svc, _, store := newTestService(t, &scriptedStreamer{chunks: chunked(validDocument, 32)}, Options{})

	snap, err := svc.Translate(context.Background(), testRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), snap.ID))
	_, err = svc.Result(context.Background(), snap.ID)
	assert.True(t, IsErrorType(err, ErrNotFound))
	_, err = store.LoadResult(context.Background(), snap.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	assert.True(t, IsErrorType(svc.Delete(context.Background(), snap.ID), ErrNotFound))
}

func TestDelete_RefusesRunningSession(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, &scriptedStreamer{hold: true}, Options{})

	id, err := svc.StartTranslation(testRequest())
	require.NoError(t, err)

	assert.True(t, IsErrorType(svc.Delete(context.Background(), id), ErrValidation))
	_, err = svc.Result(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(id))
}

func TestForward_LeavesStreamOpenOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	upstream := make(chan llm.StreamChunk)
	out := forward(ctx, upstream)

	cancel()
	close(upstream)

	select {
	case _, ok := <-out:
		assert.True(t, ok, "output must not be closed after cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestForward_SkipsEmptyDeltas(t *testing.T) {
	t.Parallel()

	upstream := make(chan llm.StreamChunk, 3)
	upstream <- llm.StreamChunk{Content: "a"}
	upstream <- llm.StreamChunk{FinishReason: "stop"}
	upstream <- llm.StreamChunk{Content: "b"}
	close(upstream)

	var texts []string
	for chunk := range forward(context.Background(), upstream) {
		require.NoError(t, chunk.Err)
		texts = append(texts, chunk.Text)
	}
	assert.Equal(t, "ab", strings.Join(texts, ""))
}
