package message

// Status is the processing state of a message.
type Status int

const (
	_ Status = iota
	StatusReceived
	StatusProcessing
	StatusParsed
	StatusValidated
	StatusProcessed
	StatusResponded
	StatusParseError
	StatusValidationError
	StatusProcessingError
	StatusRejected
	StatusArchived
)

func (s Status) String() string {
	switch s {
	case StatusReceived:
		return "RECEIVED"
	case StatusProcessing:
		return "PROCESSING"
	case StatusParsed:
		return "PARSED"
	case StatusValidated:
		return "VALIDATED"
	case StatusProcessed:
		return "PROCESSED"
	case StatusResponded:
		return "RESPONDED"
	case StatusParseError:
		return "PARSE_ERROR"
	case StatusValidationError:
		return "VALIDATION_ERROR"
	case StatusProcessingError:
		return "PROCESSING_ERROR"
	case StatusRejected:
		return "REJECTED"
	case StatusArchived:
		return "ARCHIVED"
	default:
		return "UNKNOWN"
	}
}

// StatusFromString resolves the persisted form of a status.
func StatusFromString(s string) (Status, bool) {
	for st := StatusReceived; st <= StatusArchived; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// transitions lists the legal edges of the state machine. REJECTED is only
// reached by an explicit policy decision and ARCHIVED by housekeeping, so
// every completed or terminal state may archive.
var transitions = map[Status][]Status{
	StatusReceived:        {StatusProcessing},
	StatusProcessing:      {StatusParsed, StatusParseError},
	StatusParsed:          {StatusValidated, StatusValidationError},
	StatusValidated:       {StatusProcessed, StatusProcessingError},
	StatusProcessed:       {StatusResponded, StatusArchived},
	StatusResponded:       {StatusArchived},
	StatusParseError:      {StatusReceived, StatusRejected, StatusArchived},
	StatusValidationError: {StatusReceived, StatusRejected, StatusArchived},
	StatusProcessingError: {StatusReceived, StatusRejected, StatusArchived},
	StatusRejected:        {StatusArchived},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsError reports whether the status is one of the failure states.
func (s Status) IsError() bool {
	return s == StatusParseError || s == StatusValidationError || s == StatusProcessingError
}

// IsTerminal reports whether no further automatic transition happens from
// this status without manual intervention. Error states are terminal once the
// retry budget is exhausted; that is decided by the coordinator, not here.
func (s Status) IsTerminal() bool {
	return s == StatusResponded || s == StatusProcessed || s == StatusRejected || s == StatusArchived
}
