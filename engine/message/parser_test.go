package message

import (
	"reflect"
	"strings"
	"testing"
)

const rawGuarantee = `:20:GUAR760REF001
:27:1/1
:32B:USD100000,00
:30:260801
:31E:270801
:50:ACME INDUSTRIES LTD
:59:GLOBAL TRADE BANK PLC
:77C:PERFORMANCE GUARANTEE IN FAVOUR OF BENEFICIARY`

const rawAmendment = `:20:AMEND767REF001
:21:GUAR760REF001
:26E:1
:31E:280801
:77C:EXTEND EXPIRY BY ONE YEAR`

func TestParse_ReceivedGuarantee(t *testing.T) {
	fs, err := Parse(KindReceivedGuarantee, rawGuarantee)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := fs.(*GuaranteeFields)
	if !ok {
		t.Fatalf("unexpected field set type %T", fs)
	}
	if f.Reference != "GUAR760REF001" {
		t.Errorf("reference: got %q", f.Reference)
	}
	if f.CurrencyAmount != "USD100000,00" {
		t.Errorf("currencyAmount: got %q", f.CurrencyAmount)
	}
	if f.IssueDate != "260801" || f.ExpiryDate != "270801" {
		t.Errorf("dates: got %q, %q", f.IssueDate, f.ExpiryDate)
	}
	if f.Applicant != "ACME INDUSTRIES LTD" {
		t.Errorf("applicant: got %q", f.Applicant)
	}
	if f.Beneficiary != "GLOBAL TRADE BANK PLC" {
		t.Errorf("beneficiary: got %q", f.Beneficiary)
	}
	if f.SequenceNumber != 1 || f.SequenceTotal != 1 {
		t.Errorf("sequence: got %d/%d", f.SequenceNumber, f.SequenceTotal)
	}
	if len(f.Extra) != 0 {
		t.Errorf("no tags should be left over, got %v", f.Extra)
	}
}

func TestParse_Amendment(t *testing.T) {
	fs, err := Parse(KindAmendment, rawAmendment)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := fs.(*AmendmentFields)
	if !ok {
		t.Fatalf("unexpected field set type %T", fs)
	}
	if f.Reference != "AMEND767REF001" || f.RelatedReference != "GUAR760REF001" {
		t.Errorf("references: got %q, %q", f.Reference, f.RelatedReference)
	}
	if f.AmendmentNumber != 1 {
		t.Errorf("amendment number: got %d", f.AmendmentNumber)
	}
	if f.ExpiryDate != "280801" {
		t.Errorf("expiryDate: got %q", f.ExpiryDate)
	}
}

func TestParse_Narratives(t *testing.T) {
	raw := ":20:ACK768REF001\n:21:GUAR760REF001\n:79:WE ACKNOWLEDGE RECEIPT"
	for _, k := range []Kind{KindAmendmentConfirmation, KindAcknowledgement, KindDiscrepancyAdvice} {
		fs, err := Parse(k, raw)
		if err != nil {
			t.Fatalf("%s: %v", k.Code(), err)
		}
		f := fs.(*NarrativeFields)
		if f.Kind() != k {
			t.Errorf("%s: field set resolves to %s", k.Code(), f.Kind().Code())
		}
		if f.Narrative != "WE ACKNOWLEDGE RECEIPT" {
			t.Errorf("%s: narrative %q", k.Code(), f.Narrative)
		}
	}
}

func TestParse_FreeFormatWithoutRelatedRef(t *testing.T) {
	fs, err := Parse(KindFreeFormat, ":20:FREE799REF001\n:79:GENERAL ENQUIRY")
	if err != nil {
		t.Fatal(err)
	}
	if fs.Common().RelatedReference != "" {
		t.Errorf("related reference should be empty, got %q", fs.Common().RelatedReference)
	}
}

func TestParse_Deterministic(t *testing.T) {
	first, err := Parse(KindReceivedGuarantee, rawGuarantee)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Parse(KindReceivedGuarantee, rawGuarantee)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("parsing the same payload twice produced different field sets:\n%#v\n%#v", first, second)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		raw     string
		wantErr string
	}{
		{
			name:    "missing required amount tag",
			kind:    KindReceivedGuarantee,
			raw:     ":20:GUAR760REF002\n:30:260801\n:31E:270801\n:50:ACME\n:59:BANK",
			wantErr: ":32B:",
		},
		{
			name:    "duplicate tag",
			kind:    KindFreeFormat,
			raw:     ":20:REF\n:20:REF\n:79:TEXT",
			wantErr: "more than once",
		},
		{
			name:    "text before first tag",
			kind:    KindFreeFormat,
			raw:     "HELLO\n:20:REF",
			wantErr: "before the first tag",
		},
		{
			name:    "empty payload",
			kind:    KindFreeFormat,
			raw:     "\n\n",
			wantErr: "no tags",
		},
		{
			name:    "amendment missing related reference",
			kind:    KindAmendment,
			raw:     ":20:AMEND767REF002\n:26E:1",
			wantErr: ":21:",
		},
		{
			name:    "amendment number not numeric",
			kind:    KindAmendment,
			raw:     ":20:AMEND767REF003\n:21:GUAR760REF001\n:26E:ONE",
			wantErr: "amendment number",
		},
		{
			name:    "malformed sequence",
			kind:    KindFreeFormat,
			raw:     ":20:REF\n:27:1-2",
			wantErr: "n/m form",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.kind, tt.raw)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_ContinuationLinesAndExtraTags(t *testing.T) {
	raw := ":20:GUAR760REF003\n:32B:EUR5000,50\n:30:260101\n:31E:261231\n:50:APPLICANT NAME\nSECOND LINE\n:59:BENEFICIARY\n:23B:CRED"
	fs, err := Parse(KindReceivedGuarantee, raw)
	if err != nil {
		t.Fatal(err)
	}
	f := fs.(*GuaranteeFields)
	if f.Applicant != "APPLICANT NAME\nSECOND LINE" {
		t.Errorf("continuation line was not folded into the open tag: %q", f.Applicant)
	}
	if f.Extra["23B"] != "CRED" {
		t.Errorf("unrecognized tag should survive in Extra, got %v", f.Extra)
	}
}

func TestParse_UnregisteredKind(t *testing.T) {
	if _, err := Parse(Kind(99), ":20:REF"); err == nil {
		t.Fatal("expected an error for an unregistered kind")
	}
}
