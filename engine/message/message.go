package message

import (
	"fmt"
	"time"
)

// ErrorKind tags the diagnostic attached to a failed message so monitoring
// can tell "needs a code/data fix" apart from "needs manual reprocessing".
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindTransient ErrorKind = "transient-system"
	ErrorKindPermanent ErrorKind = "permanent-business"
	ErrorKindTimeout   ErrorKind = "operational-timeout"
)

// Message is the persisted record of an inbound or outbound guarantee
// message. Messages are created at RECEIVED and are never deleted; terminal
// messages are archived in place.
type Message struct {
	Reference      string
	Kind           Kind
	Status         Status
	RawPayload     string
	Fields         FieldSet
	Sender         string
	Receiver       string
	TransactionRef string
	Sequence       int
	Priority       int

	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	ReceivedAt       time.Time
	ProcessStartedAt *time.Time
	ProcessEndedAt   *time.Time

	ErrorDetail string
	ErrorKind   ErrorKind

	// ParentRef links a generated response back to its original message;
	// ResponseRef is the reverse link held by the original.
	ParentRef   string
	ResponseRef string

	// AggregateRef links the message to the guarantee or amendment it
	// produced or touched.
	AggregateRef string

	// StuckFlaggedAt records when the message was flagged for manual review
	// after sitting in PROCESSING past the timeout threshold.
	StuckFlaggedAt *time.Time

	ProcessingNotes []string
}

// New returns a message ready for ingestion.
func New(reference string, kind Kind, raw, sender, receiver string, priority, maxRetries int, receivedAt time.Time) *Message {
	return &Message{
		Reference:  reference,
		Kind:       kind,
		Status:     StatusReceived,
		RawPayload: raw,
		Sender:     sender,
		Receiver:   receiver,
		Priority:   priority,
		MaxRetries: maxRetries,
		ReceivedAt: receivedAt,
	}
}

// NewResponse synthesizes the acknowledgement answering an original message.
// Sender and receiver are swapped, the parent link points at the original and
// the transaction reference correlates back to the original's reference. The
// response is born at PROCESSED since it needs no processing of its own.
func NewResponse(original *Message, reference string, now time.Time) *Message {
	raw := fmt.Sprintf(":20:%s\n:21:%s\n:77C:WE ACKNOWLEDGE RECEIPT OF YOUR %s %s",
		reference, original.Reference, original.Kind.Code(), original.TransactionRef)
	m := &Message{
		Reference:      reference,
		Kind:           ResponseKind,
		Status:         StatusProcessed,
		RawPayload:     raw,
		Sender:         original.Receiver,
		Receiver:       original.Sender,
		TransactionRef: original.Reference,
		Priority:       original.Priority,
		MaxRetries:     original.MaxRetries,
		ReceivedAt:     now,
		ParentRef:      original.Reference,
	}
	end := now
	m.ProcessStartedAt = &end
	m.ProcessEndedAt = &end
	return m
}

// Note appends a line to the processing audit notes.
func (m *Message) Note(format string, args ...interface{}) {
	m.ProcessingNotes = append(m.ProcessingNotes, fmt.Sprintf(format, args...))
}

// TagError attaches a diagnostic to the message.
func (m *Message) TagError(kind ErrorKind, err error) {
	if err == nil {
		return
	}
	m.ErrorKind = kind
	m.ErrorDetail = err.Error()
}

// RetryBudgetLeft reports whether the message may still be re-attempted.
func (m *Message) RetryBudgetLeft() bool {
	return m.RetryCount < m.MaxRetries
}

// RetryEligible reports whether the automatic scan may resubmit the message
// at the given instant. Permanent-business failures are excluded; only an
// explicit manual retry can bring those back.
func (m *Message) RetryEligible(now time.Time) bool {
	if !m.Status.IsError() {
		return false
	}
	if m.ErrorKind == ErrorKindPermanent {
		return false
	}
	if !m.RetryBudgetLeft() {
		return false
	}
	return m.NextRetryAt != nil && !m.NextRetryAt.After(now)
}
