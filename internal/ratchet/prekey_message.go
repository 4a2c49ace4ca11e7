package ratchet

// PreKeyMessage is the first message a browser sends: it carries the data
// needed to complete X3DH (which one-time prekey was consumed, the
// initiator's identity key, and its X3DH ephemeral key) alongside the first
// Double Ratchet Envelope, so a single round-trip both establishes the
// session and delivers a payload.
//
// EK (the X3DH ephemeral public key from InitiateX3DH) is distinct from the
// embedded Envelope's DH field: DH is the ratchet's own initial public key,
// generated independently by NewInitiatorSession. Both are needed, the
// former to complete X3DH and the latter to seed the responder's receiving
// chain.
type PreKeyMessage struct {
	OTKID *uint32 `json:"otk_id,omitempty"`
	IK    []byte  `json:"ik"`
	EK    []byte  `json:"ek"`
	Envelope
}

// NewPreKeyMessage builds the first message in a new session.
func NewPreKeyMessage(initiatorIdentityPublic, ephemeralPublic [KeySize]byte, otkID *uint32, env *Envelope) *PreKeyMessage {
	return &PreKeyMessage{
		OTKID:    otkID,
		IK:       append([]byte{}, initiatorIdentityPublic[:]...),
		EK:       append([]byte{}, ephemeralPublic[:]...),
		Envelope: *env,
	}
}
