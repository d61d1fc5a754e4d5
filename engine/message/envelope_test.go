package message

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOpenEnvelope(t *testing.T) {
	body, _ := json.Marshal(Envelope{
		MessageKind: "MT760",
		Sender:      "BANKGB2L",
		Receiver:    "BANKUS33",
		Priority:    5,
		Payload:     rawGuarantee,
	})
	e, kind, err := OpenEnvelope(body)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindReceivedGuarantee {
		t.Errorf("kind: got %s", kind.Code())
	}
	if e.Sender != "BANKGB2L" || e.Receiver != "BANKUS33" || e.Priority != 5 {
		t.Errorf("unexpected envelope %+v", e)
	}
	if e.Payload != rawGuarantee {
		t.Error("payload should pass through untouched")
	}
}

func TestOpenEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not JSON", "this is not an envelope"},
		{"missing payload", `{"messageKind": "MT760", "sender": "BANKGB2L", "receiver": "BANKUS33"}`},
		{"empty payload", `{"messageKind": "MT760", "sender": "BANKGB2L", "receiver": "BANKUS33", "payload": ""}`},
		{"bad kind shape", `{"messageKind": "760", "sender": "BANKGB2L", "receiver": "BANKUS33", "payload": ":20:REF"}`},
		{"sender too short", `{"messageKind": "MT760", "sender": "BANK", "receiver": "BANKUS33", "payload": ":20:REF"}`},
		{"priority out of range", `{"messageKind": "MT760", "sender": "BANKGB2L", "receiver": "BANKUS33", "priority": 12, "payload": ":20:REF"}`},
		{"unexpected property", `{"messageKind": "MT760", "sender": "BANKGB2L", "receiver": "BANKUS33", "payload": ":20:REF", "extra": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := OpenEnvelope([]byte(tt.body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestOpenEnvelope_UnknownKindCode(t *testing.T) {
	body := `{"messageKind": "MT999", "sender": "BANKGB2L", "receiver": "BANKUS33", "payload": ":20:REF"}`
	_, _, err := OpenEnvelope([]byte(body))
	if err == nil || !strings.Contains(err.Error(), "MT999") {
		t.Errorf("expected an unsupported-kind error, got %v", err)
	}
}
