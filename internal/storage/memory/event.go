package memory

import (
	"context"

	"github.com/xenking/storefront/internal/domain/event"
)

// EventRepository implements event.Repository.
type EventRepository struct {
	s *Store
}

var _ event.Repository = (*EventRepository)(nil)

func (r *EventRepository) Unpublished(_ context.Context, limit int) ([]event.Event, error) {
	var out []event.Event
	r.s.read(func(st *state) {
		for _, e := range st.events {
			if st.published[e.ID] {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				return
			}
		}
	})
	return out, nil
}

func (r *EventRepository) MarkPublished(_ context.Context, ids []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		r.s.state.published[id] = true
	}
	return nil
}

type txEvents struct {
	st *state
}

func (t txEvents) Append(_ context.Context, e event.Event) error {
	t.st.events = append(t.st.events, e)
	return nil
}
