package auth

import (
	"fmt"

	"github.com/charlesng35/radiolink/pkg/crypto"
)

// MinStateLength is the shortest anti-forgery state token ever issued.
const MinStateLength = 16

// NewStateToken returns an anti-forgery token of at least MinStateLength
// alphanumeric characters drawn from crypto/rand.
func NewStateToken(length int) (string, error) {
	if length < MinStateLength {
		length = MinStateLength
	}
	token, err := crypto.RandomString(length, crypto.AlphaNumeric)
	if err != nil {
		return "", fmt.Errorf("auth: generate state: %w", err)
	}
	return token, nil
}
