package message

import "fmt"

// Kind is one of the six supported categories of guarantee-related messages.
type Kind int

const (
	_ Kind = iota
	KindReceivedGuarantee
	KindAmendment
	KindAmendmentConfirmation
	KindAcknowledgement
	KindDiscrepancyAdvice
	KindFreeFormat
)

// kindSpec carries the fixed wire code and display name of a kind.
type kindSpec struct {
	code string
	name string
}

var kindSpecs = map[Kind]kindSpec{
	KindReceivedGuarantee:     {"MT760", "Received Guarantee"},
	KindAmendment:             {"MT767", "Guarantee Amendment"},
	KindAmendmentConfirmation: {"MT769", "Amendment Processing Confirmation"},
	KindAcknowledgement:       {"MT768", "Acknowledgement"},
	KindDiscrepancyAdvice:     {"MT750", "Discrepancy Advice"},
	KindFreeFormat:            {"MT799", "Free Format Message"},
}

// Code returns the fixed textual code of the kind, e.g. "MT760".
func (k Kind) Code() string {
	return kindSpecs[k].code
}

// String returns the display name of the kind.
func (k Kind) String() string {
	s, ok := kindSpecs[k]
	if !ok {
		return "UNKNOWN"
	}
	return s.name
}

// Known reports whether the kind is one of the supported categories.
func (k Kind) Known() bool {
	_, ok := kindSpecs[k]
	return ok
}

// ResponseRequired reports whether messages of this kind must be answered
// with an acknowledgement.
func (k Kind) ResponseRequired() bool {
	return k == KindReceivedGuarantee || k == KindAmendment
}

// ResponseKind is the kind used for generated responses.
const ResponseKind = KindAcknowledgement

// KindFromCode resolves a wire code ("MT760") into a Kind.
func KindFromCode(code string) (Kind, error) {
	for k, s := range kindSpecs {
		if s.code == code {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unsupported message kind %q", code)
}
