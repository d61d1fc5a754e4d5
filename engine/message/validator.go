package message

import (
	"fmt"
	"strings"
	"time"
)

// Violation is a single business-rule failure found during validation.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries the complete list of violations found in one pass.
type ValidationError struct {
	Violations []Violation
}

func (err *ValidationError) Error() string {
	parts := make([]string, len(err.Violations))
	for i, v := range err.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// maxGuaranteeTenor bounds how far in the future an expiry date may sit
// relative to the issue date.
const maxGuaranteeTenor = 30 * 365 * 24 * time.Hour

// Validate applies the business-rule checks for the field set's kind. It does
// not fail fast: every problem in the message is reported. A nil return means
// the message passed.
func Validate(fs FieldSet) *ValidationError {
	var vs []Violation
	add := func(field, reason string, args ...interface{}) {
		vs = append(vs, Violation{Field: field, Reason: fmt.Sprintf(reason, args...)})
	}

	if fs.Common().Reference == "" {
		add("reference", "message reference is empty")
	}

	switch f := fs.(type) {
	case *GuaranteeFields:
		validateGuarantee(f, add)
	case *AmendmentFields:
		validateAmendment(f, add)
	case *NarrativeFields:
		// Reference pairing was enforced by the parser; free text has no
		// further business rules.
	}

	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}

func validateGuarantee(f *GuaranteeFields, add func(field, reason string, args ...interface{})) {
	if _, _, err := DecomposeAmount(f.CurrencyAmount); err != nil {
		add("currencyAmount", "%v", err)
	}
	issue, issueErr := ParseDate(f.IssueDate)
	if issueErr != nil {
		add("issueDate", "date %q is not in YYMMDD form", f.IssueDate)
	}
	expiry, expiryErr := ParseDate(f.ExpiryDate)
	if expiryErr != nil {
		add("expiryDate", "date %q is not in YYMMDD form", f.ExpiryDate)
	}
	if issueErr == nil && expiryErr == nil {
		if !expiry.After(issue) {
			add("expiryDate", "expiry %s is not after issue %s", f.ExpiryDate, f.IssueDate)
		} else if expiry.Sub(issue) > maxGuaranteeTenor {
			add("expiryDate", "expiry %s is more than 30 years after issue %s", f.ExpiryDate, f.IssueDate)
		}
	}
	if strings.TrimSpace(f.Applicant) == "" {
		add("applicant", "applicant is empty")
	}
	if strings.TrimSpace(f.Beneficiary) == "" {
		add("beneficiary", "beneficiary is empty")
	}
}

func validateAmendment(f *AmendmentFields, add func(field, reason string, args ...interface{})) {
	if f.RelatedReference == "" {
		add("relatedReference", "related reference is empty")
	}
	if f.AmendmentNumber < 1 {
		add("amendmentNumber", "amendment number %d is not positive", f.AmendmentNumber)
	}
	if f.CurrencyAmount != "" {
		if _, _, err := DecomposeAmount(f.CurrencyAmount); err != nil {
			add("currencyAmount", "%v", err)
		}
	}
	if f.ExpiryDate != "" {
		if _, err := ParseDate(f.ExpiryDate); err != nil {
			add("expiryDate", "date %q is not in YYMMDD form", f.ExpiryDate)
		}
	}
}
