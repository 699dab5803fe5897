// Package trust provides ed25519 key handling and envelope signing and
// verification for AIP messages.
package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/agent-interchange/aip-go/internal/protocol"
)

// Algorithm is the tag prefixed to exported keys and signatures.
const Algorithm = "ed25519"

const prefix = Algorithm + ":"

// GenerateKeyPair creates a new ed25519 key pair.
func GenerateKeyPair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	return priv, pub, nil
}

// ExportPublicKey renders a public key as "ed25519:<base64>".
func ExportPublicKey(key ed25519.PublicKey) string {
	return prefix + base64.StdEncoding.EncodeToString(key)
}

// ExportPrivateKey renders the private key seed as "ed25519:<base64>".
func ExportPrivateKey(key ed25519.PrivateKey) string {
	return prefix + base64.StdEncoding.EncodeToString(key.Seed())
}

// ParsePublicKey decodes a public key exported by ExportPublicKey. The
// algorithm tag is optional.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := decodeTagged(s)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("parse public key: got %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// ParsePrivateKey decodes a private key from its seed or full 64-byte form.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := decodeTagged(s)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("parse private key: got %d bytes", len(raw))
	}
}

func decodeTagged(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ":"); i >= 0 {
		if s[:i] != Algorithm {
			return nil, fmt.Errorf("unsupported algorithm %q", s[:i])
		}
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

// Sign signs the envelope's canonical form and returns "ed25519:<base64>".
func Sign(env protocol.Envelope, key ed25519.PrivateKey) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("sign: invalid private key length %d", len(key))
	}
	data, err := env.CanonicalForm()
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return prefix + base64.StdEncoding.EncodeToString(ed25519.Sign(key, data)), nil
}

// SignEnvelope returns a copy of env carrying its signature.
func SignEnvelope(env protocol.Envelope, key ed25519.PrivateKey) (protocol.Envelope, error) {
	sig, err := Sign(env, key)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return env.WithSignature(sig), nil
}

// Verify reports whether env carries a valid signature by key. It returns
// false for a missing signature and for any decoding failure.
func Verify(env protocol.Envelope, key ed25519.PublicKey) bool {
	if env.Signature == "" || len(key) != ed25519.PublicKeySize {
		return false
	}
	sig, err := decodeTagged(env.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	data, err := env.CanonicalForm()
	if err != nil {
		return false
	}
	return ed25519.Verify(key, data, sig)
}
