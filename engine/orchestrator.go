package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/bankfabric/guarantee-message-engine/engine/message"
	"github.com/bankfabric/guarantee-message-engine/engine/store"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// process drives one message as far through the pipeline as it can go. Every
// transition commits through a compare-and-set before the next stage starts,
// so a crash leaves the message in a well-defined, resumable state and a
// concurrent worker loses the CAS instead of double-applying an effect.
// Stages re-run safely: a message already past a stage skips it.
func (e *Engine) process(ctx context.Context, reference string) {
	m, err := e.store.GetMessage(ctx, reference)
	if err != nil {
		e.logger.WithField("messageRef", reference).Error("Message could not be loaded: ", err)
		return
	}
	logger := e.logger.WithFields(logrus.Fields{
		"messageRef": m.Reference,
		"kind":       m.Kind.Code(),
	})

	for {
		var ok bool
		switch m.Status {
		case message.StatusReceived:
			ok = e.claimStage(ctx, m)
		case message.StatusProcessing:
			ok = e.parseStage(ctx, m)
		case message.StatusParsed:
			ok = e.validateStage(ctx, m)
		case message.StatusValidated:
			ok = e.dispatchStage(ctx, logger, m)
		case message.StatusProcessed:
			if !m.Kind.ResponseRequired() {
				logger.Debug("Processing complete")
				return
			}
			ok = e.respondStage(ctx, m)
			if ok {
				logger.Debug("Processing complete")
				return
			}
		default:
			return
		}
		if !ok {
			return
		}
	}
}

// commit persists a stage transition. A stale status means another worker
// owns the message, which is not an error for this one.
func (e *Engine) commit(ctx context.Context, m *message.Message, from message.Status) bool {
	err := e.store.UpdateMessage(ctx, m, from)
	if errors.Cause(err) == store.ErrStaleStatus {
		e.logger.WithField("messageRef", m.Reference).Debug("Lost the status race, backing off")
		return false
	}
	if err != nil {
		e.logger.WithField("messageRef", m.Reference).Error("Transition could not be committed: ", err)
		return false
	}
	return true
}

func (e *Engine) claimStage(ctx context.Context, m *message.Message) bool {
	now := e.now()
	m.Status = message.StatusProcessing
	m.ProcessStartedAt = &now
	m.ProcessEndedAt = nil
	m.ErrorDetail = ""
	m.ErrorKind = message.ErrorKindNone
	return e.commit(ctx, m, message.StatusReceived)
}

func (e *Engine) parseStage(ctx context.Context, m *message.Message) bool {
	fields, err := message.Parse(m.Kind, m.RawPayload)
	if err != nil {
		e.fail(ctx, m, message.StatusParseError, err)
		return false
	}
	common := fields.Common()
	m.Fields = fields
	m.Sequence = common.SequenceNumber
	m.TransactionRef = common.RelatedReference
	if m.TransactionRef == "" {
		m.TransactionRef = common.Reference
	}
	m.Status = message.StatusParsed
	return e.commit(ctx, m, message.StatusProcessing)
}

func (e *Engine) validateStage(ctx context.Context, m *message.Message) bool {
	if verr := message.Validate(m.Fields); verr != nil {
		e.fail(ctx, m, message.StatusValidationError, verr)
		return false
	}
	m.Status = message.StatusValidated
	return e.commit(ctx, m, message.StatusParsed)
}

func (e *Engine) dispatchStage(ctx context.Context, logger logrus.FieldLogger, m *message.Message) bool {
	outcome, err := e.runHandler(ctx, m)
	if err != nil {
		logger.Error("Handler failure: ", err)
		e.fail(ctx, m, message.StatusProcessingError, err)
		return false
	}

	now := e.now()
	m.Status = message.StatusProcessed
	m.ProcessEndedAt = &now
	m.AggregateRef = outcome.AggregateRef()
	if outcome != nil && outcome.Note != "" {
		m.Note(outcome.Note)
	}
	err = e.store.CommitOutcome(ctx, m, message.StatusValidated, outcome)
	if errors.Cause(err) == store.ErrStaleStatus {
		logger.Debug("Lost the status race, backing off")
		return false
	}
	if err != nil {
		// The stored status is still VALIDATED; undo the local mutation so
		// the failure transition leaves from the right state.
		m.Status = message.StatusValidated
		m.AggregateRef = ""
		e.fail(ctx, m, message.StatusProcessingError, errors.Wrap(err, "committing outcome"))
		return false
	}
	e.metrics.Processed.Inc()
	return true
}

// runHandler resolves and runs the business action in panic recovery mode.
func (e *Engine) runHandler(ctx context.Context, m *message.Message) (outcome *store.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = nil, fmt.Errorf("handler panic! %s %s", r, debug.Stack())
		}
	}()
	return e.dispatch(ctx, m)
}
