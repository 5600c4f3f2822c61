package identity

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// AnonymousPrefix marks identifiers derived from client context rather than
// an authenticated user id.
const AnonymousPrefix = "anon_"

// Fingerprinter derives a stable anonymous identifier from request context.
// The same client (IP, user agent, language) always maps to the same
// fingerprint for a given salt.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter creates a Fingerprinter. The salt keeps fingerprints from
// being reversible by brute-forcing the IP space.
func NewFingerprinter(salt string) *Fingerprinter {
	key := []byte(salt)
	// BLAKE2b keys are capped at 64 bytes
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Fingerprinter{key: key}
}

// Fingerprint hashes the client context of r.
func (f *Fingerprinter) Fingerprint(r *http.Request) string {
	h, _ := blake2b.New256(f.key) // key length is bounded in NewFingerprinter
	h.Write([]byte(ClientIP(r)))
	h.Write([]byte{0})
	h.Write([]byte(r.UserAgent()))
	h.Write([]byte{0})
	h.Write([]byte(r.Header.Get("Accept-Language")))

	return AnonymousPrefix + hex.EncodeToString(h.Sum(nil)[:16])
}

// Identifier returns userID when the caller is authenticated, otherwise the
// anonymous fingerprint of r.
func (f *Fingerprinter) Identifier(userID string, r *http.Request) string {
	if userID != "" {
		return userID
	}
	return f.Fingerprint(r)
}

// IsAnonymous reports whether id was produced by Fingerprint.
func IsAnonymous(id string) bool {
	return strings.HasPrefix(id, AnonymousPrefix)
}

// ClientIP extracts the client IP from the request, considering proxy headers.
func ClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// nginx
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
