package storage

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"ytfeed/youtube"
)

// RedirectStore maps temp ids (and retired canonical ids) to the canonical
// id they resolved to. Chains are collapsed on write: after put(A,B) and
// put(B,C) both A and B point at C. An entry never changes its final
// target once written.
type RedirectStore struct {
	state *StateStore
}

// Get returns the canonical id from redirects to.
func (r *RedirectStore) Get(from string) (string, bool) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	to, ok := r.state.state.Redirects[from]
	return to, ok
}

// All returns a copy of the table.
func (r *RedirectStore) All() map[string]string {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	return maps.Clone(r.state.state.Redirects)
}

// Len returns the number of entries.
func (r *RedirectStore) Len() int {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	return len(r.state.state.Redirects)
}

// Put records that from now resolves to the canonical id to.
func (r *RedirectStore) Put(ctx context.Context, from, to string) error {
	return r.Record(ctx, from, youtube.ResolvedChannel{CanonicalID: to})
}

// Record stores the redirect from -> ch.CanonicalID and rewrites the
// stored subscriptions in the same write, filling a missing title or
// thumbnail from ch. Writing an identical redirect again is a no-op.
func (r *RedirectStore) Record(ctx context.Context, from string, ch youtube.ResolvedChannel) error {
	_, err := r.state.update(ctx, func(st *State) (bool, error) {
		added, err := collapseRedirect(st.Redirects, from, ch.CanonicalID)
		if err != nil {
			return false, err
		}

		subs := ApplyRedirects(st.Subscriptions, st.Redirects)
		final := st.Redirects[from]
		for i := range subs {
			if subs[i].ID != final {
				continue
			}
			if subs[i].Title == "" || subs[i].Title == from {
				subs[i].Title = ch.Title
			}
			if subs[i].Thumbnail == "" {
				subs[i].Thumbnail = ch.ThumbnailURL
			}
		}

		changed := added || !slices.Equal(subs, st.Subscriptions)
		st.Subscriptions = subs
		return changed, nil
	})
	return err
}

// Apply rewrites subs through the current table and removes duplicates.
func (r *RedirectStore) Apply(subs []Subscription) []Subscription {
	return ApplyRedirects(subs, r.All())
}

// collapseRedirect adds from -> to to m, following to through m first and
// repointing every entry that targeted from. It reports whether m changed.
func collapseRedirect(m map[string]string, from, to string) (bool, error) {
	if from == "" || !youtube.IsCanonicalID(to) {
		return false, &StorageError{Op: "redirect", Entity: "redirect", ID: from,
			Err: fmt.Errorf("%w: %q -> %q", ErrInvalidInput, from, to)}
	}

	final := to
	if next, ok := m[to]; ok {
		final = next
	}
	if final == from {
		return false, &StorageError{Op: "redirect", Entity: "redirect", ID: from,
			Err: fmt.Errorf("%w: %q -> %q would form a cycle", ErrInvalidInput, from, to)}
	}

	if existing, ok := m[from]; ok {
		if existing == final {
			return false, nil
		}
		return false, &StorageError{Op: "redirect", Entity: "redirect", ID: from,
			Err: fmt.Errorf("%w: already points at %s, not %s", ErrRedirectConflict, existing, final)}
	}

	m[from] = final
	for k, v := range m {
		if v == from {
			m[k] = final
		}
	}
	return true, nil
}
