package engine

import (
	"context"

	"github.com/bankfabric/guarantee-message-engine/engine/message"
	"github.com/bankfabric/guarantee-message-engine/engine/store"

	"github.com/pkg/errors"
)

// respondStage synthesizes the acknowledgement for a response-requiring
// message: sender/receiver swapped, fresh reference, parent link to the
// original. The response is persisted at PROCESSED together with the
// original's PROCESSED -> RESPONDED transition and back-reference in one
// transaction. Generation is idempotent: an original that already carries a
// response reference is skipped, and the transactional guard makes sure at
// most one response ever exists.
func (e *Engine) respondStage(ctx context.Context, m *message.Message) bool {
	if m.ResponseRef != "" {
		return true
	}

	response := message.NewResponse(m, e.refs.MessageRef(), e.now())
	m.ResponseRef = response.Reference
	m.Status = message.StatusResponded
	m.Note("acknowledged by %s", response.Reference)

	err := e.store.CommitResponse(ctx, m, response)
	if errors.Cause(err) == store.ErrStaleStatus {
		e.logger.WithField("messageRef", m.Reference).Debug("Response already generated elsewhere")
		return false
	}
	if err != nil {
		e.logger.WithField("messageRef", m.Reference).Error("Response could not be committed: ", err)
		return false
	}
	e.metrics.Responses.Inc()
	return true
}
