package connection

import (
	"encoding/json"
	"errors"
	"fmt"

	"discord-rpc/internal/adapter/codec"
	"discord-rpc/internal/domain"
)

// ProtocolVersion is the IPC handshake version.
const ProtocolVersion = 1

// Handshake upgrades a freshly dialed transport: it sends the handshake frame
// and waits for one READY application frame under the transport's current
// read timeout. It returns the READY envelope. On failure the caller must
// discard the transport.
func Handshake(t domain.Transport, clientID string, limits codec.Limits) (*domain.Envelope, error) {
	hello, err := codec.NewJSONFrame(codec.OpHandshake, domain.HandshakeRequest{
		Version:  ProtocolVersion,
		ClientID: clientID,
	})
	if err != nil {
		return nil, err
	}
	if err := codec.WriteFrame(t, hello); err != nil {
		return nil, handshakeErr(err, "send")
	}

	reply, err := codec.ReadFrame(t, limits)
	if err != nil {
		if errors.Is(err, domain.ErrWouldBlock) {
			return nil, handshakeErr(err, "timed out waiting for READY")
		}
		return nil, handshakeErr(err, "read")
	}

	switch reply.Op {
	case codec.OpFrame:
	case codec.OpClose:
		var body domain.CloseData
		if jsonErr := json.Unmarshal(reply.Payload, &body); jsonErr != nil {
			return nil, handshakeErr(domain.ErrConnectionClosed, "peer closed")
		}
		return nil, handshakeErr(domain.ErrConnectionClosed,
			fmt.Sprintf("peer closed (code %d): %s", body.Code, body.Message))
	default:
		return nil, handshakeErr(domain.ErrProtocol, "unexpected opcode "+reply.Op.String())
	}

	env, err := codec.DecodeEnvelope(reply)
	if err != nil {
		return nil, handshakeErr(err, "decode")
	}
	if env.Evt != domain.EvtReady {
		return nil, handshakeErr(domain.ErrProtocol, fmt.Sprintf("expected %s event, got %q", domain.EvtReady, env.Evt))
	}
	return env, nil
}

func handshakeErr(cause error, detail string) error {
	return domain.NewDomainError("Handshake", fmt.Errorf("%w: %w", domain.ErrHandshake, cause), detail)
}
