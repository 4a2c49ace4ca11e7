package ratchet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const x3dhInfo = "botster-hub-relay-x3dh-v1"

// x3dhSaltPrefix is prepended to the concatenated DH outputs per the X3DH
// spec's recommendation of a fixed-byte prefix of 0xFF the length of one DH
// output, so the degenerate all-same-key case can't collapse the transcript.
var x3dhSaltPrefix = bytes.Repeat([]byte{0xFF}, KeySize)

// BundlePublic is the public half of a PreKeyBundle, as published to and
// fetched from the server (see internal/server.PreKeyBundle for the wire
// encoding of this data).
type BundlePublic struct {
	SigningPublic      ed25519.PublicKey
	IdentityPublic     [KeySize]byte
	SignedPreKeyPublic [KeySize]byte
	SignedPreKeySig    []byte
	OneTimePreKeyID    *uint32
	OneTimePreKey      *[KeySize]byte
}

// InitiatorHandshake is the result of the initiating side's (the browser's)
// X3DH computation: a shared secret to seed the Double Ratchet, and the
// initiator's ephemeral public key, which must be sent to the responder as
// part of the first ("PreKey") message.
type InitiatorHandshake struct {
	SharedSecret   []byte
	EphemeralPublic [KeySize]byte
}

// InitiateX3DH runs the initiator side of X3DH against a fetched bundle.
// ownIdentity is the initiator's own long-lived X25519 identity keypair.
func InitiateX3DH(bundle *BundlePublic, ownIdentity *IdentityKeyPair) (*InitiatorHandshake, error) {
	if !VerifySignedPreKey(bundle.SigningPublic, bundle.SignedPreKeyPublic, bundle.SignedPreKeySig) {
		return nil, fmt.Errorf("bundle signed prekey signature invalid")
	}

	ephPriv, ephPub, err := generateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}

	dh1, err := dh(ownIdentity.AgreementPrivate, bundle.SignedPreKeyPublic)
	if err != nil {
		return nil, err
	}
	dh2, err := dh(ephPriv, bundle.IdentityPublic)
	if err != nil {
		return nil, err
	}
	dh3, err := dh(ephPriv, bundle.SignedPreKeyPublic)
	if err != nil {
		return nil, err
	}

	concat := append(append(append([]byte{}, dh1...), dh2...), dh3...)
	if bundle.OneTimePreKey != nil {
		dh4, err := dh(ephPriv, *bundle.OneTimePreKey)
		if err != nil {
			return nil, err
		}
		concat = append(concat, dh4...)
	}

	sk, err := x3dhKDF(concat)
	if err != nil {
		return nil, err
	}

	return &InitiatorHandshake{SharedSecret: sk, EphemeralPublic: ephPub}, nil
}

// RespondX3DH runs the responder side (the hub's). initiatorIdentityPublic
// and initiatorEphemeralPublic come from the PreKey message the browser
// sent as its first frame. otp is the one-time prekey the hub published and
// is now consuming (nil if the bundle had none available, which weakens
// forward secrecy for this session but is still a valid X3DH run).
func RespondX3DH(identity *IdentityKeyPair, signedPreKey *SignedPreKey, otp *OneTimePreKey, initiatorIdentityPublic, initiatorEphemeralPublic [KeySize]byte) ([]byte, error) {
	dh1, err := dh(signedPreKey.Private, initiatorIdentityPublic)
	if err != nil {
		return nil, err
	}
	dh2, err := dh(identity.AgreementPrivate, initiatorEphemeralPublic)
	if err != nil {
		return nil, err
	}
	dh3, err := dh(signedPreKey.Private, initiatorEphemeralPublic)
	if err != nil {
		return nil, err
	}

	concat := append(append(append([]byte{}, dh1...), dh2...), dh3...)
	if otp != nil {
		dh4, err := dh(otp.Private, initiatorEphemeralPublic)
		if err != nil {
			return nil, err
		}
		concat = append(concat, dh4...)
	}

	return x3dhKDF(concat)
}

func x3dhKDF(concatenatedDH []byte) ([]byte, error) {
	input := append(append([]byte{}, x3dhSaltPrefix...), concatenatedDH...)
	reader := hkdf.New(sha256.New, input, nil, []byte(x3dhInfo))
	sk := make([]byte, 32)
	if _, err := io.ReadFull(reader, sk); err != nil {
		return nil, fmt.Errorf("deriving X3DH shared secret: %w", err)
	}
	return sk, nil
}
