package pool

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const secretASCIIAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateSecret returns a random 43-char ASCII token, the length and
// alphabet spec.md §3 specifies for Group.secret. It is used as-is for the
// group secret; the admin surface additionally folds it through blake2b
// (see secretDigest) before comparing it against caller-supplied tokens, so
// a timing side channel on string comparison never leaks the raw secret.
func generateSecret() (string, error) {
	return randomASCIIString(43)
}

// generateConnectPassword returns a random token used by Process as
// spec.md §3's connectPassword: "required on every incoming request to the
// worker." It uses the same alphabet and a shorter, still-unguessable
// length since it's sent over a trusted Unix domain socket per request
// rather than compared against external admin callers.
func generateConnectPassword() (string, error) {
	return randomASCIIString(32)
}

func randomASCIIString(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random string: %w", err)
	}
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = secretASCIIAlphabet[int(b)%len(secretASCIIAlphabet)]
	}
	return string(out), nil
}

// secretDigest folds a group/process secret through blake2b-256 so the
// admin HTTP/WS/API surface compares fixed-size digests instead of the raw
// 43-char secret string, per SPEC_FULL.md's domain-stack wiring decision
// for golang.org/x/crypto.
func secretDigest(secret string) (string, error) {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:]), nil
}
