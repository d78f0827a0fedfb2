package pool

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
)

// AdminAuth gates the admin HTTP surface (the event feed and the inspect
// endpoint) behind a shared secret. The configured secret is immediately
// folded through secretDigest (blake2b-256, shared with Group.secret /
// Process.connectPassword) and only that digest is ever held in memory or
// compared against, the same way the raw secret never crosses the wire.
type AdminAuth struct {
	digest []byte
}

// NewAdminAuth builds an AdminAuth from a hex-encoded secret. An empty
// secret disables authentication, so a deployment can opt in deliberately.
func NewAdminAuth(hexSecret string) (*AdminAuth, error) {
	if hexSecret == "" {
		return &AdminAuth{}, nil
	}
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("admin auth: malformed secret: %w", err)
	}
	digestHex, err := secretDigest(string(secret))
	if err != nil {
		return nil, fmt.Errorf("admin auth: failed to digest secret: %w", err)
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, fmt.Errorf("admin auth: malformed digest: %w", err)
	}
	return &AdminAuth{digest: digest}, nil
}

// GenerateAdminSecret produces a fresh random secret suitable for
// AdminAuth, hex-encoded for storage in configuration.
func GenerateAdminSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("admin auth: failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// enabled reports whether a secret was configured.
func (a *AdminAuth) enabled() bool {
	return len(a.digest) > 0
}

// authenticate checks the Authorization header against the configured
// secret's digest, expecting "Bearer <hex-hmac-of-the-digest-itself>" so
// neither the raw secret nor its digest ever crosses the wire.
func (a *AdminAuth) authenticate(r *http.Request) bool {
	if !a.enabled() {
		return true
	}
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	token, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, a.digest)
	mac.Write(a.digest)
	expected := mac.Sum(nil)
	return hmac.Equal(token, expected)
}

// ComputeAdminToken derives the bearer token a client holding hexSecret
// must present, performing the same secretDigest-then-HMAC folding
// authenticate checks server-side. Used by the CLI's restart subcommand to
// authenticate against a running pool's admin surface without needing any
// other access to AdminAuth internals.
func ComputeAdminToken(hexSecret string) (string, error) {
	auth, err := NewAdminAuth(hexSecret)
	if err != nil {
		return "", err
	}
	if !auth.enabled() {
		return "", nil
	}
	mac := hmac.New(sha256.New, auth.digest)
	mac.Write(auth.digest)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Wrap rejects unauthenticated requests with 401 before calling next,
// wiring the same challenge/response HMAC primitive the worker-spawn
// control channel does not need but the admin surface does, since it's
// reachable over a real network listener rather than a local socketpair.
func (a *AdminAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authenticate(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
