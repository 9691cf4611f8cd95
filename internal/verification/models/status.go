package models

// Status is the lifecycle state of a verification token. It is a closed set:
// ParseStatus rejects anything else and CanTransitionTo encodes every legal
// edge.
//
//	issued ─► validated ─► processing ─► verified | not_verified
//	   │          │             │
//	   └──────────┴─────────────┴──► declined | expired | invalid
type Status string

const (
	StatusIssued      Status = "issued"
	StatusValidated   Status = "validated"
	StatusProcessing  Status = "processing"
	StatusVerified    Status = "verified"
	StatusNotVerified Status = "not_verified"
	StatusDeclined    Status = "declined"
	StatusExpired     Status = "expired"
	StatusInvalid     Status = "invalid"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusIssued, StatusValidated, StatusProcessing,
	StatusVerified, StatusNotVerified, StatusDeclined, StatusExpired, StatusInvalid,
}

var transitions = map[Status][]Status{
	StatusIssued:     {StatusValidated, StatusDeclined, StatusExpired, StatusInvalid},
	StatusValidated:  {StatusProcessing, StatusDeclined, StatusExpired, StatusInvalid},
	StatusProcessing: {StatusVerified, StatusNotVerified, StatusDeclined, StatusExpired, StatusInvalid},
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	_, open := transitions[s]
	return !open && s.IsValid()
}

func (s Status) IsValid() bool {
	_, ok := ParseStatus(string(s))
	return ok
}

// Consumes reports whether entering s consumes the token, which stamps
// ConsumedAt.
func (s Status) Consumes() bool {
	return s == StatusVerified || s == StatusNotVerified || s == StatusDeclined
}

// CanTransitionTo reports whether s → next is a legal edge.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
