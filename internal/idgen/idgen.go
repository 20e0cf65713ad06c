// Package idgen provides URL-safe random identifiers backed by nanoid:
// object-key names, device session IDs and bearer secrets.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the opaque IDs the server hands out.
const (
	PrefixDevice = "dev_"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters in an ID (excluding the prefix).
var Length = 21

// SecretLength is the number of random characters in a secret. At 62 symbols
// this is a little over 256 bits.
var SecretLength = 43

// Generate returns a new unique ID with no prefix.
func Generate() (string, error) {
	return GenerateWithPrefix("")
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Secret returns a random token suitable for session cookies and CSRF tokens.
func Secret() (string, error) {
	s, err := nanoid.Generate(Alphabet, SecretLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return s, nil
}
