package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/bankfabric/guarantee-message-engine/engine/message"
	"github.com/bankfabric/guarantee-message-engine/engine/store"

	"github.com/pkg/errors"
)

// Handler is the business action run for one message kind once the message
// has been parsed and validated.
type Handler func(ctx context.Context, m *message.Message) (*store.Outcome, error)

var ErrUnassignedHandler = errors.New("unknown message handler")

// handlers associates business actions to message kinds.
type handlers struct {
	h map[message.Kind]Handler
	sync.RWMutex
}

// Subscribe a handler to a specific message kind.
func (r *handlers) Subscribe(k message.Kind, h Handler) {
	r.Lock()
	if r.h == nil {
		r.h = map[message.Kind]Handler{}
	}
	r.h[k] = h
	defer r.Unlock()
}

// dispatch runs the registered handler according to the kind of the message
// given. Expect ErrUnassignedHandler if no handler is registered.
func (r *handlers) dispatch(ctx context.Context, m *message.Message) (*store.Outcome, error) {
	r.RLock()
	h, ok := r.h[m.Kind]
	r.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrUnassignedHandler, fmt.Sprintf("kind %s", m.Kind.Code()))
	}
	return h(ctx, m)
}
