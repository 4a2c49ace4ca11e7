package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/botster/hub/internal/device"
	"github.com/botster/hub/internal/ratchet"
	"github.com/botster/hub/internal/server"
)

// wireFrame is the envelope the relay WebSocket multiplexes sessions over:
// the server fans each browser's frames to/from the hub's single connection,
// tagged with which browser session they belong to.
type wireFrame struct {
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"` // "prekey" or "envelope"
	Payload   json.RawMessage `json:"payload"`
}

const (
	frameKindPreKey   = "prekey"
	frameKindEnvelope = "envelope"
)

// oneTimePreKeyPoolSize is how many one-time prekeys PublishBundle generates
// per call.
const oneTimePreKeyPoolSize = 20

// SessionEvent is a decrypted browser event tagged with the browser session
// it came from, so the hub can route any response back to the right one.
type SessionEvent struct {
	SessionID string
	Event     BrowserEvent
}

// SocketPump owns the hub's identity and one Double Ratchet session per
// connected browser, carrying relay.BrowserCommand/TerminalMessage traffic
// end-to-end encrypted over a single server.RelayWS connection.
//
// internal/relay's message types (BrowserCommand, TerminalMessage,
// BrowserEvent) are transport-agnostic; this is the transport that actually
// exercises them over the network, as opposed to the direct Tailscale SSH
// attach in internal/tailnet/internal/sshserver, which a hub may expose
// additionally when both peers share a tailnet.
type SocketPump struct {
	logger *slog.Logger
	client *server.Client

	identity     *ratchet.IdentityKeyPair
	signedPreKey *ratchet.SignedPreKey

	mu          sync.Mutex
	conn        *websocket.Conn
	oneTimeKeys map[uint32]ratchet.OneTimePreKey
	nextOTKID   uint32
	sessions    map[string]*ratchet.Session

	events chan SessionEvent
}

// NewSocketPump loads (or creates) this machine's persisted device identity
// and builds the hub's ratchet identity and signed prekey around it, so the
// hub presents the same fingerprint to a browser across restarts instead of
// a fresh one every run. Falls back to a fresh, unpersisted identity if the
// device store can't be loaded, so a browser relay can still come up.
func NewSocketPump(client *server.Client, logger *slog.Logger) (*SocketPump, error) {
	identity, err := hubIdentity(logger)
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	signedPreKey, err := ratchet.GenerateSignedPreKey(identity)
	if err != nil {
		return nil, fmt.Errorf("generating signed prekey: %w", err)
	}

	return &SocketPump{
		logger:       logger,
		client:       client,
		identity:     identity,
		signedPreKey: signedPreKey,
		oneTimeKeys:  make(map[uint32]ratchet.OneTimePreKey),
		sessions:     make(map[string]*ratchet.Session),
		events:       make(chan SessionEvent, 64),
	}, nil
}

// hubIdentity loads this machine's persisted device signing key and builds
// a ratchet identity around it. On any failure to load or create the device
// record, it logs a warning and falls back to a freshly generated identity
// rather than failing the relay outright.
func hubIdentity(logger *slog.Logger) (*ratchet.IdentityKeyPair, error) {
	dev, err := device.LoadOrCreate()
	if err != nil {
		if logger != nil {
			logger.Warn("Could not load persisted device identity, using a fresh one for this session", "error", err)
		}
		return ratchet.GenerateIdentityKeyPair()
	}
	return ratchet.IdentityKeyPairFromSigningKey(dev.VerifyingKey, dev.SigningKey)
}

// Events returns the channel of decrypted, parsed browser events arriving
// from any connected browser session.
func (p *SocketPump) Events() <-chan SessionEvent {
	return p.events
}

// PublishBundle tops up the one-time prekey pool and publishes the full
// bundle to the server, so a browser can initiate X3DH without a live
// round-trip to the hub first.
func (p *SocketPump) PublishBundle(ctx context.Context) error {
	p.mu.Lock()
	fresh, err := ratchet.GenerateOneTimePreKeys(p.nextOTKID, oneTimePreKeyPoolSize)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("generating one-time prekeys: %w", err)
	}
	wire := make([]server.OneTimePreKey, 0, len(fresh))
	for _, k := range fresh {
		p.oneTimeKeys[k.ID] = k
		wire = append(wire, server.OneTimePreKey{ID: k.ID, Key: encodeKey(k.Public)})
	}
	p.nextOTKID += uint32(len(fresh))
	p.mu.Unlock()

	bundle := &server.PreKeyBundle{
		IdentityKey:     encodeKey(p.identity.AgreementPublic),
		SignedPreKey:    encodeKey(p.signedPreKey.Public),
		SignedPreKeySig: base64.StdEncoding.EncodeToString(p.signedPreKey.Signature),
		OneTimePreKeys:  wire,
	}
	return p.client.PublishPreKeyBundle(ctx, bundle)
}

// Run dials the relay WebSocket and reads frames until ctx is cancelled or
// the connection drops. Each call reconnects; the caller is expected to
// retry Run in a loop (the dial itself already retries with backoff inside
// server.RelayWS).
func (p *SocketPump) Run(ctx context.Context) error {
	conn, err := p.client.RelayWS(ctx)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("reading relay frame: %w", err)
		}
		if err := p.handleFrame(frame); err != nil {
			p.logger.Warn("Dropping relay frame", "session_id", frame.SessionID, "error", err)
		}
	}
}

func (p *SocketPump) handleFrame(frame wireFrame) error {
	var plaintext []byte

	switch frame.Kind {
	case frameKindPreKey:
		var msg ratchet.PreKeyMessage
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decoding prekey message: %w", err)
		}
		pt, err := p.acceptHandshake(frame.SessionID, &msg)
		if err != nil {
			return err
		}
		plaintext = pt

	case frameKindEnvelope:
		var env ratchet.Envelope
		if err := json.Unmarshal(frame.Payload, &env); err != nil {
			return fmt.Errorf("decoding envelope: %w", err)
		}
		p.mu.Lock()
		session, ok := p.sessions[frame.SessionID]
		p.mu.Unlock()
		if !ok {
			return fmt.Errorf("no ratchet session for %s", frame.SessionID)
		}
		pt, err := session.Decrypt(&env, []byte(frame.SessionID))
		if err != nil {
			return fmt.Errorf("decrypting envelope: %w", err)
		}
		plaintext = pt

	default:
		return fmt.Errorf("unknown frame kind %q", frame.Kind)
	}

	cmd, err := ParseBrowserCommand(plaintext)
	if err != nil {
		return fmt.Errorf("parsing browser command: %w", err)
	}

	p.events <- SessionEvent{SessionID: frame.SessionID, Event: CommandToEvent(cmd)}
	return nil
}

// acceptHandshake completes the responder side of X3DH for a new browser
// session and returns the plaintext of the first payload it carried.
func (p *SocketPump) acceptHandshake(sessionID string, msg *ratchet.PreKeyMessage) ([]byte, error) {
	var initiatorIK [ratchet.KeySize]byte
	if len(msg.IK) != ratchet.KeySize {
		return nil, fmt.Errorf("malformed initiator identity key length %d", len(msg.IK))
	}
	copy(initiatorIK[:], msg.IK)

	var initiatorEphemeral [ratchet.KeySize]byte
	if len(msg.EK) != ratchet.KeySize {
		return nil, fmt.Errorf("malformed initiator ephemeral key length %d", len(msg.EK))
	}
	copy(initiatorEphemeral[:], msg.EK)

	p.mu.Lock()
	var otp *ratchet.OneTimePreKey
	if msg.OTKID != nil {
		if k, ok := p.oneTimeKeys[*msg.OTKID]; ok {
			otp = &k
			delete(p.oneTimeKeys, *msg.OTKID)
		}
	}
	p.mu.Unlock()

	sharedSecret, err := ratchet.RespondX3DH(p.identity, p.signedPreKey, otp, initiatorIK, initiatorEphemeral)
	if err != nil {
		return nil, fmt.Errorf("responding to X3DH: %w", err)
	}

	session := ratchet.NewResponderSession(sharedSecret, p.signedPreKey)
	plaintext, err := session.Decrypt(&msg.Envelope, []byte(sessionID))
	if err != nil {
		return nil, fmt.Errorf("decrypting first message: %w", err)
	}

	p.mu.Lock()
	p.sessions[sessionID] = session
	p.mu.Unlock()

	return plaintext, nil
}

// SendTerminal encrypts a TerminalMessage for the given browser session and
// writes it to the relay connection as an envelope frame.
func (p *SocketPump) SendTerminal(sessionID string, msg TerminalMessage) error {
	p.mu.Lock()
	session, ok := p.sessions[sessionID]
	conn := p.conn
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no ratchet session for %s", sessionID)
	}
	if conn == nil {
		return fmt.Errorf("relay not connected")
	}

	plaintext, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding terminal message: %w", err)
	}

	env, err := session.Encrypt(plaintext, []byte(sessionID))
	if err != nil {
		return fmt.Errorf("encrypting terminal message: %w", err)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	frame := wireFrame{SessionID: sessionID, Kind: frameKindEnvelope, Payload: payload}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(frame)
}

// BroadcastTerminal sends msg to every browser session with an established
// ratchet, logging (rather than failing) any individual send error so one
// stale session doesn't block delivery to the rest.
func (p *SocketPump) BroadcastTerminal(msg TerminalMessage) {
	p.mu.Lock()
	sessionIDs := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	p.mu.Unlock()

	for _, id := range sessionIDs {
		if err := p.SendTerminal(id, msg); err != nil {
			p.logger.Warn("Dropping terminal broadcast to session", "session_id", id, "error", err)
		}
	}
}

// CloseSession drops the ratchet session for a disconnected browser.
func (p *SocketPump) CloseSession(sessionID string) {
	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
}

func encodeKey(k [ratchet.KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}
