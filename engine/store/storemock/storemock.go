// Package storemock provides an in-memory implementation of the store used
// by the engine tests. It mirrors the DynamoDB store's compare-and-set and
// transactional semantics, minus the network.
package storemock

import (
	"context"
	"sync"
	"time"

	"github.com/bankfabric/guarantee-message-engine/engine/message"
	"github.com/bankfabric/guarantee-message-engine/engine/store"
)

type Store struct {
	mu         sync.Mutex
	messages   map[string]*message.Message
	guarantees map[string]*store.Guarantee
	amendments map[string]*store.Amendment
}

func New() *Store {
	return &Store{
		messages:   map[string]*message.Message{},
		guarantees: map[string]*store.Guarantee{},
		amendments: map[string]*store.Amendment{},
	}
}

// clone duplicates a message so callers never share memory with the store,
// like a round trip through the real table.
func clone(m *message.Message) *message.Message {
	c := *m
	if m.NextRetryAt != nil {
		t := *m.NextRetryAt
		c.NextRetryAt = &t
	}
	if m.ProcessStartedAt != nil {
		t := *m.ProcessStartedAt
		c.ProcessStartedAt = &t
	}
	if m.ProcessEndedAt != nil {
		t := *m.ProcessEndedAt
		c.ProcessEndedAt = &t
	}
	if m.StuckFlaggedAt != nil {
		t := *m.StuckFlaggedAt
		c.StuckFlaggedAt = &t
	}
	c.ProcessingNotes = append([]string(nil), m.ProcessingNotes...)
	if m.Fields != nil {
		data, err := message.EncodeFields(m.Fields)
		if err == nil {
			if fs, err := message.DecodeFields(m.Kind, data); err == nil {
				c.Fields = fs
			}
		}
	}
	return &c
}

func (s *Store) PutMessage(ctx context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.Reference]; ok {
		return store.ErrDuplicate
	}
	s.messages[m.Reference] = clone(m)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, reference string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[reference]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(m), nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *message.Message, from message.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[m.Reference]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != from {
		return store.ErrStaleStatus
	}
	s.messages[m.Reference] = clone(m)
	return nil
}

func (s *Store) ListForProcessing(ctx context.Context, now time.Time, limit int) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []*message.Message
	for _, m := range s.messages {
		if m.Status == message.StatusReceived || m.RetryEligible(now) {
			msgs = append(msgs, clone(m))
		}
	}
	store.SortForProcessing(msgs)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Store) ListStuck(ctx context.Context, cutoff time.Time) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []*message.Message
	for _, m := range s.messages {
		if m.Status == message.StatusProcessing && m.StuckFlaggedAt == nil &&
			m.ProcessStartedAt != nil && m.ProcessStartedAt.Before(cutoff) {
			msgs = append(msgs, clone(m))
		}
	}
	return msgs, nil
}

func (s *Store) ResponseFor(ctx context.Context, parentRef string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ParentRef == parentRef {
			return clone(m), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindGuaranteeByCorrelation(ctx context.Context, correlationRef string) (*store.Guarantee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.guarantees {
		if g.CorrelationRef == correlationRef {
			c := *g
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CommitOutcome(ctx context.Context, m *message.Message, from message.Status, out *store.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[m.Reference]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != from {
		return store.ErrStaleStatus
	}
	if out != nil && out.Guarantee != nil {
		if _, ok := s.guarantees[out.Guarantee.Reference]; ok {
			return store.ErrDuplicate
		}
	}
	if out != nil && out.Amendment != nil {
		if _, ok := s.amendments[out.Amendment.Reference]; ok {
			return store.ErrDuplicate
		}
	}
	s.messages[m.Reference] = clone(m)
	if out != nil && out.Guarantee != nil {
		g := *out.Guarantee
		s.guarantees[g.Reference] = &g
	}
	if out != nil && out.Amendment != nil {
		a := *out.Amendment
		s.amendments[a.Reference] = &a
	}
	return nil
}

func (s *Store) CommitResponse(ctx context.Context, original *message.Message, response *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[original.Reference]
	if !ok {
		return store.ErrNotFound
	}
	if current.Status != message.StatusProcessed || current.ResponseRef != "" {
		return store.ErrStaleStatus
	}
	if _, ok := s.messages[response.Reference]; ok {
		return store.ErrDuplicate
	}
	s.messages[original.Reference] = clone(original)
	s.messages[response.Reference] = clone(response)
	return nil
}

// Guarantee returns a stored guarantee by business reference, for test
// assertions.
func (s *Store) Guarantee(reference string) (*store.Guarantee, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guarantees[reference]
	if !ok {
		return nil, false
	}
	c := *g
	return &c, true
}

// Amendment returns a stored amendment by business reference, for test
// assertions.
func (s *Store) Amendment(reference string) (*store.Amendment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.amendments[reference]
	if !ok {
		return nil, false
	}
	c := *a
	return &c, true
}

// SeedGuarantee installs a guarantee directly, bypassing message processing.
func (s *Store) SeedGuarantee(g *store.Guarantee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *g
	s.guarantees[c.Reference] = &c
}
