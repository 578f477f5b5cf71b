// Package roomcode generates and checks the short codes viewers type to
// join a room.
package roomcode

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	// Length is the number of symbols in a room code.
	Length = 6

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrExhausted is returned by Unique when every attempt collided.
var ErrExhausted = errors.New("roomcode: no free code found")

var alphabetSize = big.NewInt(int64(len(alphabet)))

// Generate returns a code drawn uniformly from [A-Z0-9]. It is not checked
// against live rooms; see Unique.
func Generate() string {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			panic("roomcode: crypto/rand failed: " + err.Error())
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String()
}

// Validate reports whether code is exactly six characters of [A-Z0-9].
func Validate(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !isSymbol(code[i]) {
			return false
		}
	}
	return true
}

// Normalize upper-cases input, drops everything outside [A-Z0-9] and
// truncates to Length. "ab-12 cd" becomes "AB12CD".
func Normalize(input string) string {
	upper := strings.ToUpper(input)
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < len(upper) && b.Len() < Length; i++ {
		if isSymbol(upper[i]) {
			b.WriteByte(upper[i])
		}
	}
	return b.String()
}

// Unique calls gen until claim accepts a code, at most attempts times.
// claim must atomically reserve the code and return false on collision.
func Unique(gen func() string, attempts int, claim func(code string) bool) (string, error) {
	if gen == nil {
		gen = Generate
	}
	for i := 0; i < attempts; i++ {
		code := gen()
		if claim(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}

func isSymbol(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
