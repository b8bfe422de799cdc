// Package idgen generates short, URL-safe row IDs backed by nanoid. IDs are
// also used as NATS subject tokens, so the alphabet excludes '.', '*' and '>'.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Row prefixes, one per kind of record.
const (
	PrefixEntry   = "wl-"
	PrefixSession = "ps-"
	PrefixItem    = "it-"
	PrefixEvent   = "ev-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// Entry returns a new waitlist entry ID.
func Entry() (string, error) { return GenerateWithPrefix(PrefixEntry) }

// Session returns a new party session ID.
func Session() (string, error) { return GenerateWithPrefix(PrefixSession) }

// Item returns a new session item ID.
func Item() (string, error) { return GenerateWithPrefix(PrefixItem) }

// Event returns a new notification event ID.
func Event() (string, error) { return GenerateWithPrefix(PrefixEvent) }

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
