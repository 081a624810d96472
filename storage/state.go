package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"ytfeed/youtube"
)

// StateStore owns the state document. Every change is applied to a copy
// and becomes visible only after the copy was saved, so a failed write
// leaves both the document on disk and the in-memory view untouched.
type StateStore struct {
	backend Backend
	now     func() time.Time

	mu    sync.RWMutex
	state State
}

// OpenStateStore loads the state document, starting empty when none was saved.
func OpenStateStore(ctx context.Context, backend Backend) (*StateStore, error) {
	var st State
	if err := backend.Load(ctx, DocState, &st); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return &StateStore{
		backend: backend,
		now:     time.Now,
		state:   st.Clone(),
	}, nil
}

// Snapshot returns a copy of the current document.
func (s *StateStore) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscriptions returns a copy of the subscription list.
func (s *StateStore) Subscriptions() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Subscriptions)
}

// Sync replaces subscriptions and settings with a client's document.
// Client redirects are merged only for temp ids the server has no entry
// for; the merged table is then applied to the incoming subscriptions,
// which also drops duplicates.
func (s *StateStore) Sync(ctx context.Context, incoming State) (State, error) {
	return s.update(ctx, func(st *State) (bool, error) {
		for _, from := range slices.Sorted(maps.Keys(incoming.Redirects)) {
			if _, held := st.Redirects[from]; held {
				continue
			}
			// Malformed or conflicting client entries are dropped.
			_, _ = collapseRedirect(st.Redirects, from, incoming.Redirects[from])
		}
		st.Subscriptions = ApplyRedirects(incoming.Subscriptions, st.Redirects)
		st.Settings = slices.Clone(incoming.Settings)
		return true, nil
	})
}

// update applies fn to a copy of the document and persists it when fn
// reports a change.
func (s *StateStore) update(ctx context.Context, fn func(*State) (bool, error)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	changed, err := fn(&next)
	if err != nil || !changed {
		return s.state.Clone(), err
	}

	next.Version = s.state.Version + 1
	next.UpdatedAt = s.now().UTC()
	if err := s.backend.Save(ctx, DocState, next); err != nil {
		return s.state.Clone(), err
	}
	s.state = next
	return next.Clone(), nil
}

// Redirects returns the redirect table view of the store.
func (s *StateStore) Redirects() *RedirectStore {
	return &RedirectStore{state: s}
}

// ApplyRedirects rewrites subscription ids through redirects and merges
// entries that end up with the same id, keeping the first one's position.
// Temp ids are first brought to their normal form, the key redirects are
// recorded under. A subscription left without a canonical id is marked
// unresolved.
func ApplyRedirects(subs []Subscription, redirects map[string]string) []Subscription {
	out := make([]Subscription, 0, len(subs))
	index := make(map[string]int, len(subs))
	for _, sub := range subs {
		if sub.ID == "" {
			continue
		}
		if ref, ok := youtube.ParseTempID(sub.ID); ok {
			sub.ID = ref.TempID()
		}
		if to, ok := redirects[sub.ID]; ok {
			sub.ID = to
		}
		sub.Unresolved = !youtube.IsCanonicalID(sub.ID)

		if i, ok := index[sub.ID]; ok {
			out[i] = mergeSubscription(out[i], sub)
			continue
		}
		index[sub.ID] = len(out)
		out = append(out, sub)
	}
	return out
}

func mergeSubscription(keep, dup Subscription) Subscription {
	if keep.Title == "" {
		keep.Title = dup.Title
	}
	if keep.Thumbnail == "" {
		keep.Thumbnail = dup.Thumbnail
	}
	return keep
}
