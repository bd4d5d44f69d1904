package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hasferrr/mitsuko-client-sub003/pkg/icron"
	"github.com/hasferrr/mitsuko-client-sub003/pkg/log"
)

type entry struct {
	session *Session
	cancel  context.CancelFunc
}

// Registry maps session IDs to their session and cancellation token. It is
// owned by whoever orchestrates concurrent sessions.
type Registry struct {
	opts  Options
	newID func() string

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:    opts.withDefaults(),
		newID:   uuid.NewString,
		entries: make(map[string]*entry),
	}
}

// Start registers a new streaming session. The returned context is
// cancelled by Cancel or Remove, or when parent is done.
func (r *Registry) Start(parent context.Context) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	sess := New(r.newID(), r.opts)
	_ = sess.Begin()

	r.mu.Lock()
	r.entries[sess.ID()] = &entry{session: sess, cancel: cancel}
	r.mu.Unlock()

	go func() {
		// release the context once the session is over
		select {
		case <-sess.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return sess, ctx
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Cancel signals the session's context. The reading loop notices it before
// the next chunk.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Remove cancels and forgets a session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// ActiveIDs lists sessions that have not finished, sorted.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if !e.session.State().Terminal() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// List returns snapshots of every registered session, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	ret := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		ret = append(ret, e.session.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].ID < ret[j].ID
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Sweep forgets finished sessions whose last update is older than retention.
func (r *Registry) Sweep(retention time.Duration) []string {
	cutoff := r.opts.Now().Add(-retention)

	r.mu.Lock()
	removed := make([]string, 0)
	for id, e := range r.entries {
		snap := e.session.Snapshot()
		if snap.State.Terminal() && !snap.UpdatedAt.After(cutoff) {
			delete(r.entries, id)
			e.cancel()
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(removed)
	return removed
}

// ScheduleSweep registers a periodic Sweep on c.
func (r *Registry) ScheduleSweep(c *cron.Cron, spec string, retention time.Duration) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if removed := r.Sweep(retention); len(removed) > 0 {
			log.Info("Swept %d finished sessions", len(removed))
		}
	})
	if err != nil {
		return 0, err
	}
	if info, err := icron.GetTriggerInfo(spec, r.opts.Now()); err == nil {
		log.Info("Session sweep scheduled (%s), next run in %s", spec, info.TimeUntilNext.Round(time.Second))
	}
	return id, nil
}
