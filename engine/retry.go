package engine

import (
	"context"

	"github.com/bankfabric/guarantee-message-engine/alert"
	"github.com/bankfabric/guarantee-message-engine/engine/message"
	"github.com/bankfabric/guarantee-message-engine/engine/procerr"

	"github.com/pkg/errors"
)

// fail commits a failure transition and does the retry bookkeeping: the
// retry count goes up on every failure, and the next attempt is scheduled a
// fixed delay ahead while budget remains. Permanent business failures keep
// the bookkeeping for audit but are excluded from automatic rescans by
// RetryEligible, and alert immediately.
func (e *Engine) fail(ctx context.Context, m *message.Message, to message.Status, cause error) {
	errorKind := message.ErrorKindTransient
	if procerr.IsPermanent(cause) {
		errorKind = message.ErrorKindPermanent
	}

	from := m.Status
	now := e.now()
	m.Status = to
	m.TagError(errorKind, cause)
	m.RetryCount++
	m.ProcessEndedAt = &now
	if m.RetryBudgetLeft() {
		next := now.Add(e.cfg.RetryDelay)
		m.NextRetryAt = &next
	} else {
		m.NextRetryAt = nil
	}

	if !e.commit(ctx, m, from) {
		return
	}
	e.metrics.Failures.WithLabelValues(to.String()).Inc()

	switch {
	case errorKind == message.ErrorKindPermanent:
		e.notifier.Notify(ctx, alert.ReasonPermanentFailure, m)
	case !m.RetryBudgetLeft():
		e.notifier.Notify(ctx, alert.ReasonRetriesExhausted, m)
	}
}

// ScanOnce performs one pass of the retry/failure coordinator: resubmit
// elapsed retry-eligible messages (and freshly RECEIVED ones the workers
// have not picked up), and flag messages stuck in PROCESSING for manual
// review. Stuck messages are never auto-retried because partial aggregate
// mutation may already have occurred.
func (e *Engine) ScanOnce(ctx context.Context) {
	now := e.now()

	msgs, err := e.store.ListForProcessing(ctx, now, e.cfg.ScanLimit)
	if err != nil {
		e.logger.Error("Processing scan failed: ", err)
	}
	for _, m := range msgs {
		if m.Status.IsError() {
			from := m.Status
			m.Status = message.StatusReceived
			m.NextRetryAt = nil
			m.Note("automatic retry %d/%d from %s", m.RetryCount, m.MaxRetries, from)
			if err := e.store.UpdateMessage(ctx, m, from); err != nil {
				e.logger.WithField("messageRef", m.Reference).Debug("Retry reset skipped: ", err)
				continue
			}
			e.metrics.Retries.Inc()
		}
		e.enqueue(m.Reference)
	}

	stuck, err := e.store.ListStuck(ctx, now.Add(-e.cfg.StuckThreshold))
	if err != nil {
		e.logger.Error("Stuck scan failed: ", err)
	}
	for _, m := range stuck {
		flagged := now
		m.StuckFlaggedAt = &flagged
		m.ErrorKind = message.ErrorKindTimeout
		m.Note("flagged for manual review after %s in PROCESSING", e.cfg.StuckThreshold)
		if err := e.store.UpdateMessage(ctx, m, message.StatusProcessing); err != nil {
			continue
		}
		e.notifier.Notify(ctx, alert.ReasonStuckProcessing, m)
	}
}

// Retry manually resets an error-state message into RECEIVED, provided
// retry budget remains. This is the only path that can resubmit a
// permanent-business failure.
func (e *Engine) Retry(ctx context.Context, reference string) error {
	m, err := e.store.GetMessage(ctx, reference)
	if err != nil {
		return err
	}
	if !m.Status.IsError() {
		return errors.Errorf("message %s is %s, not in a retryable error state", reference, m.Status)
	}
	if !m.RetryBudgetLeft() {
		return errors.Errorf("message %s has exhausted its retry budget (%d/%d)", reference, m.RetryCount, m.MaxRetries)
	}
	from := m.Status
	m.Status = message.StatusReceived
	m.NextRetryAt = nil
	m.Note("manual retry %d/%d from %s", m.RetryCount, m.MaxRetries, from)
	if err := e.store.UpdateMessage(ctx, m, from); err != nil {
		return errors.Wrap(err, "resetting message")
	}
	e.enqueue(m.Reference)
	return nil
}
