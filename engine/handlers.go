package engine

import (
	"context"
	"fmt"

	"github.com/bankfabric/guarantee-message-engine/engine/message"
	"github.com/bankfabric/guarantee-message-engine/engine/procerr"
	"github.com/bankfabric/guarantee-message-engine/engine/store"

	"github.com/pkg/errors"
)

// handleReceivedGuarantee creates a new guarantee aggregate in the
// "received" sub-status from an inbound MT760.
func (e *Engine) handleReceivedGuarantee(ctx context.Context, m *message.Message) (*store.Outcome, error) {
	fields, ok := m.Fields.(*message.GuaranteeFields)
	if !ok {
		return nil, fmt.Errorf("handleReceivedGuarantee(): interface conversion error")
	}
	currency, amount, err := message.DecomposeAmount(fields.CurrencyAmount)
	if err != nil {
		return nil, errors.Wrap(err, "decomposing currency+amount")
	}
	issue, err := message.ParseDate(fields.IssueDate)
	if err != nil {
		return nil, errors.Wrap(err, "parsing issue date")
	}
	expiry, err := message.ParseDate(fields.ExpiryDate)
	if err != nil {
		return nil, errors.Wrap(err, "parsing expiry date")
	}

	g := &store.Guarantee{
		Reference:      e.refs.GuaranteeRef(),
		CorrelationRef: fields.Reference,
		Status:         store.GuaranteeStatusReceived,
		Currency:       currency,
		Amount:         amount,
		IssueDate:      issue,
		ExpiryDate:     expiry,
		Applicant:      fields.Applicant,
		Beneficiary:    fields.Beneficiary,
		Details:        fields.Details,
		SourceMsgRef:   m.Reference,
		Version:        1,
		CreatedAt:      e.now(),
	}
	return &store.Outcome{
		Guarantee: g,
		Note:      fmt.Sprintf("guarantee %s created (%s %s)", g.Reference, g.Currency, g.Amount),
	}, nil
}

// handleAmendment resolves the target guarantee via the correlation
// reference and records a linked amendment. A missing target is a permanent
// business failure, unlike a transient store error.
func (e *Engine) handleAmendment(ctx context.Context, m *message.Message) (*store.Outcome, error) {
	fields, ok := m.Fields.(*message.AmendmentFields)
	if !ok {
		return nil, fmt.Errorf("handleAmendment(): interface conversion error")
	}
	g, err := e.store.FindGuaranteeByCorrelation(ctx, fields.RelatedReference)
	if errors.Cause(err) == store.ErrNotFound {
		return nil, procerr.Permanentf("related aggregate not found for reference %q", fields.RelatedReference)
	}
	if err != nil {
		return nil, errors.Wrap(err, "resolving guarantee")
	}

	a := &store.Amendment{
		Reference:    e.refs.AmendmentRef(),
		GuaranteeRef: g.Reference,
		Number:       fields.AmendmentNumber,
		ExpiryDate:   fields.ExpiryDate,
		Details:      fields.Details,
		SourceMsgRef: m.Reference,
		CreatedAt:    e.now(),
	}
	if fields.CurrencyAmount != "" {
		a.Currency, a.Amount, err = message.DecomposeAmount(fields.CurrencyAmount)
		if err != nil {
			return nil, errors.Wrap(err, "decomposing currency+amount")
		}
	}
	return &store.Outcome{
		Amendment: a,
		Note:      fmt.Sprintf("amendment %d recorded against guarantee %s", a.Number, g.Reference),
	}, nil
}

// handleAuditOnly covers the kinds that carry no aggregate action:
// confirmations, acknowledgements, discrepancy advices and free-format
// messages update the audit trail only.
func (e *Engine) handleAuditOnly(ctx context.Context, m *message.Message) (*store.Outcome, error) {
	return &store.Outcome{
		Note: fmt.Sprintf("%s %s recorded, no aggregate action", m.Kind.Code(), m.TransactionRef),
	}, nil
}
