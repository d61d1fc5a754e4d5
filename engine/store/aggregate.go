package store

import "time"

// Guarantee sub-status assigned to aggregates created from inbound messages.
const GuaranteeStatusReceived = "RECEIVED"

// Guarantee is the aggregate created when a received-guarantee message is
// processed. CorrelationRef is the business identifier later messages use to
// locate it.
type Guarantee struct {
	Reference      string
	CorrelationRef string
	Status         string
	Currency       string
	Amount         string
	IssueDate      time.Time
	ExpiryDate     time.Time
	Applicant      string
	Beneficiary    string
	Details        string
	SourceMsgRef   string
	Version        int
	CreatedAt      time.Time
}

// Amendment is the aggregate created when an amendment message resolves its
// target guarantee.
type Amendment struct {
	Reference    string
	GuaranteeRef string
	Number       int
	Currency     string
	Amount       string
	ExpiryDate   string
	Details      string
	SourceMsgRef string
	CreatedAt    time.Time
}

// Outcome is what a business handler produces: at most one aggregate
// mutation plus an audit note.
type Outcome struct {
	Guarantee *Guarantee
	Amendment *Amendment
	Note      string
}

// AggregateRef returns the business reference of whichever aggregate the
// outcome carries, if any.
func (o *Outcome) AggregateRef() string {
	switch {
	case o == nil:
		return ""
	case o.Guarantee != nil:
		return o.Guarantee.Reference
	case o.Amendment != nil:
		return o.Amendment.Reference
	default:
		return ""
	}
}
