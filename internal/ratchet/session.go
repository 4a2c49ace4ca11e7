package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	maxSkippedMessageKeys = 1000

	rootKDFInfo  = "botster-hub-relay-dr-root-v1"
	chainKDFInfo = "botster-hub-relay-dr-chain-v1"
)

// messageKeys is a single chain-ratchet output: an encryption key and a MAC
// key for one message.
type messageKeys struct {
	encKey [32]byte
	macKey [32]byte
}

// skippedKey identifies a message key cached because a later-numbered
// message in the same receiving chain arrived before it.
type skippedKey struct {
	dhPublic [KeySize]byte
	n        uint32
}

// Session is one side of a Double Ratchet conversation. The zero value is
// not usable; construct with NewInitiatorSession or NewResponderSession.
type Session struct {
	mu sync.Mutex

	dhSelfPriv [KeySize]byte
	dhSelfPub  [KeySize]byte
	dhRemote   [KeySize]byte
	haveRemote bool

	rootKey [32]byte

	chainSend [32]byte
	haveSend  bool
	chainRecv [32]byte
	haveRecv  bool

	ns, nr, pn uint32

	skipped map[skippedKey]messageKeys
}

// NewInitiatorSession starts a ratchet as the X3DH initiator (the browser):
// sharedSecret is the X3DH output, and responderSignedPreKeyPublic is the
// responder's signed prekey, used as its first DH ratchet public key.
func NewInitiatorSession(sharedSecret []byte, responderSignedPreKeyPublic [KeySize]byte) (*Session, error) {
	priv, pub, err := generateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating initial ratchet key: %w", err)
	}

	s := &Session{
		dhSelfPriv: priv,
		dhSelfPub:  pub,
		dhRemote:   responderSignedPreKeyPublic,
		haveRemote: true,
		skipped:    make(map[skippedKey]messageKeys),
	}
	copy(s.rootKey[:], sharedSecret)

	out, err := dh(s.dhSelfPriv, s.dhRemote)
	if err != nil {
		return nil, err
	}
	rk, ck, err := kdfRootChain(s.rootKey, out)
	if err != nil {
		return nil, err
	}
	s.rootKey = rk
	s.chainSend = ck
	s.haveSend = true

	return s, nil
}

// NewResponderSession starts a ratchet as the X3DH responder (the hub):
// sharedSecret is the X3DH output, and signedPreKey is the responder's own
// signed prekey, whose private half seeds the first receiving DH ratchet
// step once the initiator's first message arrives.
func NewResponderSession(sharedSecret []byte, signedPreKey *SignedPreKey) *Session {
	s := &Session{
		dhSelfPriv: signedPreKey.Private,
		dhSelfPub:  signedPreKey.Public,
		skipped:    make(map[skippedKey]messageKeys),
	}
	copy(s.rootKey[:], sharedSecret)
	return s
}

// Envelope is the Double Ratchet wire format: {v, dh, pn, n, ct, mac}. The
// caller encodes/decodes this struct to/from JSON per spec.
type Envelope struct {
	V   int    `json:"v"`
	DH  []byte `json:"dh"`
	PN  uint32 `json:"pn"`
	N   uint32 `json:"n"`
	CT  []byte `json:"ct"`
	MAC []byte `json:"mac"`
}

const envelopeVersion = 2

// Encrypt advances the sending chain and produces the next Envelope.
func (s *Session) Encrypt(plaintext, associatedData []byte) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveSend {
		return nil, fmt.Errorf("ratchet: no sending chain established")
	}

	ck, mk, err := kdfChain(s.chainSend)
	if err != nil {
		return nil, err
	}
	s.chainSend = ck

	aead, err := chacha20poly1305.New(mk.encKey[:])
	if err != nil {
		return nil, fmt.Errorf("building AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	ct := aead.Seal(nil, nonce, plaintext, associatedData)

	env := &Envelope{
		V:  envelopeVersion,
		DH: append([]byte{}, s.dhSelfPub[:]...),
		PN: s.pn,
		N:  s.ns,
		CT: ct,
	}
	env.MAC = computeMAC(mk.macKey, env)
	s.ns++

	return env, nil
}

// Decrypt processes an incoming Envelope, performing a DH ratchet step if
// the sender's ratchet public key has changed, and skipping/caching message
// keys for any gap in the message counter.
func (s *Session) Decrypt(env *Envelope, associatedData []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.V != envelopeVersion {
		return nil, fmt.Errorf("ratchet: unsupported envelope version %d", env.V)
	}

	var dhPub [KeySize]byte
	if len(env.DH) != KeySize {
		return nil, fmt.Errorf("ratchet: malformed dh public key length %d", len(env.DH))
	}
	copy(dhPub[:], env.DH)

	if mk, ok := s.takeSkipped(dhPub, env.N); ok {
		return s.openWithKeys(mk, env, associatedData)
	}

	if !s.haveRemote || dhPub != s.dhRemote {
		if err := s.skipMessageKeys(env.PN); err != nil {
			return nil, err
		}
		if err := s.dhRatchetStep(dhPub); err != nil {
			return nil, err
		}
	}

	if err := s.skipMessageKeysRecv(env.N); err != nil {
		return nil, err
	}

	ck, mk, err := kdfChain(s.chainRecv)
	if err != nil {
		return nil, err
	}
	s.chainRecv = ck
	s.nr++

	return s.openWithKeys(mk, env, associatedData)
}

func (s *Session) openWithKeys(mk messageKeys, env *Envelope, associatedData []byte) ([]byte, error) {
	if !hmac.Equal(computeMAC(mk.macKey, env), env.MAC) {
		return nil, fmt.Errorf("ratchet: MAC verification failed")
	}

	aead, err := chacha20poly1305.New(mk.encKey[:])
	if err != nil {
		return nil, fmt.Errorf("building AEAD: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	pt, err := aead.Open(nil, nonce, env.CT, associatedData)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decryption failed: %w", err)
	}
	return pt, nil
}

// dhRatchetStep performs a full DH ratchet step on receiving a message from
// a new sender ratchet public key.
func (s *Session) dhRatchetStep(remotePub [KeySize]byte) error {
	s.pn = s.ns
	s.ns = 0
	s.nr = 0

	s.dhRemote = remotePub
	s.haveRemote = true

	out, err := dh(s.dhSelfPriv, s.dhRemote)
	if err != nil {
		return err
	}
	rk, ck, err := kdfRootChain(s.rootKey, out)
	if err != nil {
		return err
	}
	s.rootKey = rk
	s.chainRecv = ck
	s.haveRecv = true

	priv, pub, err := generateX25519KeyPair()
	if err != nil {
		return fmt.Errorf("generating new ratchet key: %w", err)
	}
	s.dhSelfPriv = priv
	s.dhSelfPub = pub

	out2, err := dh(s.dhSelfPriv, s.dhRemote)
	if err != nil {
		return err
	}
	rk2, ck2, err := kdfRootChain(s.rootKey, out2)
	if err != nil {
		return err
	}
	s.rootKey = rk2
	s.chainSend = ck2
	s.haveSend = true

	return nil
}

// skipMessageKeys advances the current receiving chain up to (not including)
// until, caching each skipped key, before a DH ratchet step discards it.
func (s *Session) skipMessageKeys(until uint32) error {
	if !s.haveRecv {
		return nil
	}
	return s.advanceRecvChain(until)
}

func (s *Session) skipMessageKeysRecv(until uint32) error {
	return s.advanceRecvChain(until)
}

func (s *Session) advanceRecvChain(until uint32) error {
	if s.nr >= until {
		return nil
	}
	if until-s.nr > maxSkippedMessageKeys {
		return fmt.Errorf("ratchet: too many skipped messages (%d)", until-s.nr)
	}
	for s.nr < until {
		ck, mk, err := kdfChain(s.chainRecv)
		if err != nil {
			return err
		}
		s.chainRecv = ck
		s.skipped[skippedKey{dhPublic: s.dhRemote, n: s.nr}] = mk
		s.nr++
	}
	return nil
}

func (s *Session) takeSkipped(dhPub [KeySize]byte, n uint32) (messageKeys, bool) {
	key := skippedKey{dhPublic: dhPub, n: n}
	mk, ok := s.skipped[key]
	if ok {
		delete(s.skipped, key)
	}
	return mk, ok
}

// kdfRootChain derives a new root key and chain key from the current root
// key and a fresh DH output (the Double Ratchet's "KDF_RK").
func kdfRootChain(rootKey [32]byte, dhOutput []byte) (newRoot, newChain [32]byte, err error) {
	reader := hkdf.New(sha256.New, dhOutput, rootKey[:], []byte(rootKDFInfo))
	buf := make([]byte, 64)
	if _, err = io.ReadFull(reader, buf); err != nil {
		return newRoot, newChain, fmt.Errorf("root KDF: %w", err)
	}
	copy(newRoot[:], buf[:32])
	copy(newChain[:], buf[32:])
	return newRoot, newChain, nil
}

// kdfChain derives the next chain key and this step's message keys (the
// Double Ratchet's "KDF_CK"), via HMAC-SHA256 with distinct constant inputs.
func kdfChain(chainKey [32]byte) (newChain [32]byte, mk messageKeys, err error) {
	macChain := hmac.New(sha256.New, chainKey[:])
	macChain.Write([]byte{0x02})
	copy(newChain[:], macChain.Sum(nil))

	macMsg := hmac.New(sha256.New, chainKey[:])
	macMsg.Write([]byte{0x01})
	msgSeed := macMsg.Sum(nil)

	reader := hkdf.New(sha256.New, msgSeed, nil, []byte(chainKDFInfo))
	buf := make([]byte, 64)
	if _, err = io.ReadFull(reader, buf); err != nil {
		return newChain, mk, fmt.Errorf("chain KDF: %w", err)
	}
	copy(mk.encKey[:], buf[:32])
	copy(mk.macKey[:], buf[32:])
	return newChain, mk, nil
}

// computeMAC authenticates the envelope header and ciphertext with an
// 8-byte truncated HMAC-SHA256, matching the spec's 8-byte mac field.
func computeMAC(macKey [32]byte, env *Envelope) []byte {
	h := hmac.New(sha256.New, macKey[:])
	h.Write(env.DH)
	h.Write(uint32ToBytes(env.PN))
	h.Write(uint32ToBytes(env.N))
	h.Write(env.CT)
	full := h.Sum(nil)
	return full[:8]
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
