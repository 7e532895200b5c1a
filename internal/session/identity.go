package session

import "strconv"

// IdentityKind tags where a session id came from.
type IdentityKind int

const (
	// IdentityGenerated ids come from the registry's sequence.
	IdentityGenerated IdentityKind = iota
	// IdentityAuthenticated ids come from a verified client identity.
	IdentityAuthenticated
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityAuthenticated:
		return "authenticated"
	default:
		return "generated"
	}
}

// Identity is either Authenticated(subject) or Generated(sequence).
type Identity struct {
	kind    IdentityKind
	subject string
	seq     uint64
}

// Authenticated returns an identity for a verified client subject.
func Authenticated(subject string) Identity {
	return Identity{kind: IdentityAuthenticated, subject: subject}
}

// Generated returns an identity for an anonymous connection.
func Generated(seq uint64) Identity {
	return Identity{kind: IdentityGenerated, seq: seq}
}

// Kind reports which variant the identity holds.
func (i Identity) Kind() IdentityKind { return i.kind }

// Subject returns the authenticated subject, or "" for generated identities.
func (i Identity) Subject() string { return i.subject }

// Sequence returns the generated sequence number, or 0 for authenticated
// identities.
func (i Identity) Sequence() uint64 { return i.seq }

// SessionID returns the registry key for this identity.
func (i Identity) SessionID() string {
	if i.kind == IdentityAuthenticated {
		return i.subject
	}
	return strconv.FormatUint(i.seq, 10)
}

func (i Identity) String() string {
	return i.kind.String() + ":" + i.SessionID()
}
