package models

import "crypto/subtle"

// Secret is a credential. The logger redacts values of this type.
type Secret string

func (s Secret) String() string { return string(s) }

// Equal compares against a presented value in constant time. An empty
// secret never matches.
func (s Secret) Equal(presented string) bool {
	if s == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(presented)) == 1
}
