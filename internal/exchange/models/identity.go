package models

// IdentityKind tags an identity claim. Guests are an explicit kind, never an
// empty claim.
type IdentityKind string

const (
	KindUser  IdentityKind = "user"
	KindGuest IdentityKind = "guest"
)

// Identity is the claim an exchange token carries from the Authority to a
// Relying Party. Stores treat it as opaque.
type Identity struct {
	Kind    IdentityKind   `json:"kind"`
	Subject string         `json:"sub,omitempty"`
	Email   string         `json:"email,omitempty"`
	Profile map[string]any `json:"profile,omitempty"`
}

// GuestIdentity is the claim issued when the caller holds no valid session.
func GuestIdentity() Identity {
	return Identity{Kind: KindGuest}
}

// UserIdentity builds a claim for an authenticated user.
func UserIdentity(subject, email string, profile map[string]any) Identity {
	return Identity{
		Kind:    KindUser,
		Subject: subject,
		Email:   email,
		Profile: profile,
	}
}

func (i Identity) IsGuest() bool {
	return i.Kind == KindGuest
}

// Valid reports whether the claim carries a known kind; user claims must
// name a subject.
func (i Identity) Valid() bool {
	switch i.Kind {
	case KindGuest:
		return true
	case KindUser:
		return i.Subject != ""
	default:
		return false
	}
}
