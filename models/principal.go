package models

import "fmt"

// PrincipalKind is the closed set of caller identities the access guard
// can resolve. Sender-specific authorization switches on this kind and
// must handle every variant.
type PrincipalKind int

const (
	// PrincipalAnonymous is an unauthenticated party bound to a session
	// by its client-held anonymous identifier.
	PrincipalAnonymous PrincipalKind = iota
	// PrincipalCounselor is an authenticated counselor.
	PrincipalCounselor
	// PrincipalAdmin is an authenticated admin; read access everywhere.
	PrincipalAdmin
)

// Principal is the caller identity resolved per request. Exactly one of
// AnonymousID or UserID is set depending on Kind.
type Principal struct {
	Kind        PrincipalKind
	UserID      string
	AnonymousID string
}

// SenderRole maps the principal to the transcript sender role it is
// allowed to author as. Admins cannot author messages.
func (p Principal) SenderRole() (string, error) {
	switch p.Kind {
	case PrincipalAnonymous:
		return SenderAnonymous, nil
	case PrincipalCounselor:
		return SenderCounselor, nil
	case PrincipalAdmin:
		return "", fmt.Errorf("admins cannot author chat messages")
	default:
		return "", fmt.Errorf("unknown principal kind %d", p.Kind)
	}
}

// String implements fmt.Stringer for log fields.
func (p Principal) String() string {
	switch p.Kind {
	case PrincipalAnonymous:
		return "anonymous:" + p.AnonymousID
	case PrincipalCounselor:
		return "counselor:" + p.UserID
	case PrincipalAdmin:
		return "admin:" + p.UserID
	default:
		return "unknown"
	}
}
