package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenID returns 16 random hex characters.
func GenID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenParticipantID returns the id the relay assigns to a fresh connection.
func GenParticipantID() string {
	return "user_" + GenID()
}
