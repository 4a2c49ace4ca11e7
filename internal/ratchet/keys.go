// Package ratchet implements the X3DH handshake and Double Ratchet session
// used to end-to-end encrypt traffic between a hub and a connected browser
// over the Browser Relay (see internal/relay, internal/server.RelayWS).
//
// No ready-made Double Ratchet or X3DH library exists in the surrounding
// example pack, so this package builds the protocol directly on top of
// golang.org/x/crypto's curve25519, hkdf, chacha20poly1305 and ed25519
// primitives.
package ratchet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the length in bytes of a Curve25519 public or private key.
const KeySize = 32

// IdentityKeyPair is a hub's long-lived identity: an Ed25519 signing key
// (used to sign the PreKey bundle's signed prekey) and its corresponding
// X25519 agreement key, derived via its own dedicated X25519 keypair since
// Ed25519 keys are not directly usable for Diffie-Hellman.
type IdentityKeyPair struct {
	SigningPublic  ed25519.PublicKey
	SigningPrivate ed25519.PrivateKey

	AgreementPublic  [KeySize]byte
	AgreementPrivate [KeySize]byte
}

// GenerateIdentityKeyPair creates a new identity.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return newIdentityKeyPair(pub, priv)
}

// IdentityKeyPairFromSigningKey builds an identity around an existing,
// persisted Ed25519 signing key (see internal/device) instead of generating
// a fresh one. A hub that reuses the same signing key across restarts
// presents a stable fingerprint to browsers that paired with it before; the
// X25519 agreement key is still generated fresh, since it only needs to be
// long-lived enough to back one signed prekey rotation period.
func IdentityKeyPairFromSigningKey(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*IdentityKeyPair, error) {
	return newIdentityKeyPair(pub, priv)
}

func newIdentityKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*IdentityKeyPair, error) {
	agreementPriv, agreementPub, err := generateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating agreement key: %w", err)
	}

	return &IdentityKeyPair{
		SigningPublic:    pub,
		SigningPrivate:   priv,
		AgreementPublic:  agreementPub,
		AgreementPrivate: agreementPriv,
	}, nil
}

// SignedPreKey is a medium-lived X25519 keypair signed by the identity key,
// rotated periodically by the hub.
type SignedPreKey struct {
	Public    [KeySize]byte
	Private   [KeySize]byte
	Signature []byte
}

// GenerateSignedPreKey creates a new signed prekey under the given identity.
func GenerateSignedPreKey(identity *IdentityKeyPair) (*SignedPreKey, error) {
	priv, pub, err := generateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating signed prekey: %w", err)
	}
	sig := ed25519.Sign(identity.SigningPrivate, pub[:])
	return &SignedPreKey{Public: pub, Private: priv, Signature: sig}, nil
}

// VerifySignedPreKey checks a signed prekey's signature against an identity
// key's public signing key.
func VerifySignedPreKey(signingPublic ed25519.PublicKey, signedPreKeyPublic [KeySize]byte, signature []byte) bool {
	return ed25519.Verify(signingPublic, signedPreKeyPublic[:], signature)
}

// OneTimePreKey is a single-use X25519 keypair. The hub generates a pool of
// these and consumes one per new browser session.
type OneTimePreKey struct {
	ID      uint32
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateOneTimePreKeys creates n fresh one-time prekeys, numbered starting
// at startID.
func GenerateOneTimePreKeys(startID uint32, n int) ([]OneTimePreKey, error) {
	keys := make([]OneTimePreKey, 0, n)
	for i := 0; i < n; i++ {
		priv, pub, err := generateX25519KeyPair()
		if err != nil {
			return nil, fmt.Errorf("generating one-time prekey %d: %w", i, err)
		}
		keys = append(keys, OneTimePreKey{ID: startID + uint32(i), Public: pub, Private: priv})
	}
	return keys, nil
}

func generateX25519KeyPair() (priv, pub [KeySize]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, err
	}
	// Clamp per RFC 7748.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// dh performs an X25519 scalar multiplication.
func dh(priv, pub [KeySize]byte) ([]byte, error) {
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("computing DH: %w", err)
	}
	return out, nil
}
