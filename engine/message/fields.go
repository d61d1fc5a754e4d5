package message

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldSet is the parsed, typed representation of a raw payload. The concrete
// type depends on the message kind; unrecognized tags are preserved in the
// Extra map of the embedded CommonFields.
type FieldSet interface {
	Kind() Kind
	Common() *CommonFields
}

// CommonFields are present in every kind.
type CommonFields struct {
	Reference        string            `json:"reference"`
	RelatedReference string            `json:"relatedReference,omitempty"`
	SequenceNumber   int               `json:"sequenceNumber"`
	SequenceTotal    int               `json:"sequenceTotal"`
	Extra            map[string]string `json:"extra,omitempty"`
}

func (c *CommonFields) Common() *CommonFields { return c }

// GuaranteeFields is the field set of a received-guarantee message. Dates and
// amounts are kept in their wire shapes; the validator checks them and the
// dispatcher decomposes them.
type GuaranteeFields struct {
	CommonFields
	CurrencyAmount string `json:"currencyAmount"`
	IssueDate      string `json:"issueDate"`
	ExpiryDate     string `json:"expiryDate"`
	Applicant      string `json:"applicant"`
	Beneficiary    string `json:"beneficiary"`
	Details        string `json:"details,omitempty"`
}

func (f *GuaranteeFields) Kind() Kind { return KindReceivedGuarantee }

// AmendmentFields is the field set of an amendment message.
type AmendmentFields struct {
	CommonFields
	AmendmentNumber int    `json:"amendmentNumber"`
	CurrencyAmount  string `json:"currencyAmount,omitempty"`
	ExpiryDate      string `json:"expiryDate,omitempty"`
	Details         string `json:"details,omitempty"`
}

func (f *AmendmentFields) Kind() Kind { return KindAmendment }

// NarrativeFields is the field set shared by the confirmation,
// acknowledgement, discrepancy-advice and free-format kinds, which carry a
// reference pair and free text only.
type NarrativeFields struct {
	CommonFields
	MessageKind Kind   `json:"messageKind"`
	Narrative   string `json:"narrative,omitempty"`
}

func (f *NarrativeFields) Kind() Kind { return f.MessageKind }

// typedFieldSet returns an empty field set of the type matching the kind.
func typedFieldSet(k Kind) FieldSet {
	switch k {
	case KindReceivedGuarantee:
		return &GuaranteeFields{}
	case KindAmendment:
		return &AmendmentFields{}
	default:
		return &NarrativeFields{MessageKind: k}
	}
}

// EncodeFields serializes a field set for storage.
func EncodeFields(fs FieldSet) ([]byte, error) {
	if fs == nil {
		return nil, nil
	}
	return json.Marshal(fs)
}

// DecodeFields deserializes a stored field set. The concrete type is chosen
// after the message kind.
func DecodeFields(k Kind, data []byte) (FieldSet, error) {
	if len(data) == 0 {
		return nil, nil
	}
	fs := typedFieldSet(k)
	if err := json.Unmarshal(data, fs); err != nil {
		return nil, err
	}
	return fs, nil
}

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	amountPattern   = regexp.MustCompile(`^\d+(,\d{1,2})?$`)
)

// DecomposeAmount splits a combined currency+amount wire value such as
// "USD100000,00" into the ISO currency code and a dot-decimal amount string.
func DecomposeAmount(composite string) (currency, amount string, err error) {
	if len(composite) < 4 {
		return "", "", fmt.Errorf("currency+amount %q is too short", composite)
	}
	currency, amount = composite[:3], composite[3:]
	if !currencyPattern.MatchString(currency) {
		return "", "", fmt.Errorf("currency code %q is not three uppercase letters", currency)
	}
	if !amountPattern.MatchString(amount) {
		return "", "", fmt.Errorf("amount %q is not a number with at most two decimals", amount)
	}
	return currency, strings.Replace(amount, ",", ".", 1), nil
}

// dateLayout is the six-digit wire date format (YYMMDD).
const dateLayout = "060102"

// ParseDate parses a six-digit wire date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// FormatDate renders a time in the six-digit wire date format.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
