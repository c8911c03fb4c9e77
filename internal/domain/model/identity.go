package model

// Identity is the caller resolved from an identity provider session.
// It is immutable once resolved.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

func (i Identity) IsZero() bool { return i.UserID == "" }
