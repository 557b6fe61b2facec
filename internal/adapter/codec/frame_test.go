package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-rpc/internal/domain"
)

func TestEncodeLayout(t *testing.T) {
	b := Encode(Frame{Op: OpFrame, Payload: []byte(`{}`)})
	require.Len(t, b, HeaderLen+2)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[0:4]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[4:8]))
	assert.Equal(t, []byte(`{}`), b[8:])
}

func TestEncodeDeterministic(t *testing.T) {
	f := Frame{Op: OpPing, Payload: []byte("abc")}
	assert.Equal(t, Encode(f), Encode(f))
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte(`{"v":1,"client_id":"42"}`),
		{0x00, 0xff, 0x10, 0x80},
		bytes.Repeat([]byte("x"), 70000),
	}
	for _, op := range []OpCode{OpHandshake, OpFrame, OpClose, OpPing, OpPong, OpCode(99)} {
		for _, p := range payloads {
			out, err := ReadFrame(bytes.NewReader(Encode(Frame{Op: op, Payload: p})), DefaultLimits())
			require.NoError(t, err)
			assert.Equal(t, op, out.Op)
			assert.Equal(t, len(p), len(out.Payload))
			assert.True(t, bytes.Equal(p, out.Payload), "payload mismatch for %s", op)
		}
	}
}

func TestReadFrameShortHeaderIsClose(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 0, 0}), DefaultLimits())
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestReadFrameTruncatedPayloadIsClose(t *testing.T) {
	b := Encode(Frame{Op: OpFrame, Payload: []byte(`{"cmd":"X"}`)})
	_, err := ReadFrame(bytes.NewReader(b[:len(b)-3]), DefaultLimits())
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestReadFramePayloadTooLarge(t *testing.T) {
	b := Encode(Frame{Op: OpFrame, Payload: make([]byte, 64)})
	_, err := ReadFrame(bytes.NewReader(b), Limits{MaxPayloadBytes: 16})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

// stepReader returns its chunks one Read at a time, then err.
type stepReader struct {
	chunks [][]byte
	err    error
}

func (r *stepReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestReadFrameWouldBlockBeforeHeader(t *testing.T) {
	_, err := ReadFrame(&stepReader{err: domain.ErrWouldBlock}, DefaultLimits())
	assert.ErrorIs(t, err, domain.ErrWouldBlock)
	assert.NotErrorIs(t, err, domain.ErrIO)
}

func TestReadFrameWouldBlockMidFrame(t *testing.T) {
	b := Encode(Frame{Op: OpFrame, Payload: []byte(`{"cmd":"X"}`)})
	_, err := ReadFrame(&stepReader{chunks: [][]byte{b[:5]}, err: domain.ErrWouldBlock}, DefaultLimits())
	assert.ErrorIs(t, err, ErrPartialFrame)
	assert.ErrorIs(t, err, domain.ErrIO)

	_, err = ReadFrame(&stepReader{chunks: [][]byte{b[:10]}, err: domain.ErrWouldBlock}, DefaultLimits())
	assert.ErrorIs(t, err, ErrPartialFrame)
}

func TestReadFramePassesThroughIOErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReadFrame(&stepReader{err: boom}, DefaultLimits())
	assert.ErrorIs(t, err, boom)
}

type recordingSender struct{ sent [][]byte }

func (s *recordingSender) Send(p []byte) error {
	s.sent = append(s.sent, p)
	return nil
}

func TestWriteFrameSingleSend(t *testing.T) {
	s := &recordingSender{}
	require.NoError(t, WriteFrame(s, Frame{Op: OpFrame, Payload: []byte(`{}`)}))
	require.Len(t, s.sent, 1)
	f, err := ReadFrame(bytes.NewReader(s.sent[0]), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, OpFrame, f.Op)
}

func TestDecodeEnvelope(t *testing.T) {
	f, err := NewJSONFrame(OpFrame, domain.Envelope{Cmd: domain.CmdSubscribe, Evt: domain.EvtActivityJoin, Nonce: "abc"})
	require.NoError(t, err)

	env, err := DecodeEnvelope(f)
	require.NoError(t, err)
	assert.Equal(t, domain.CmdSubscribe, env.Cmd)
	assert.Equal(t, domain.EvtActivityJoin, env.Evt)
	assert.Equal(t, "abc", env.Nonce)

	_, err = DecodeEnvelope(Frame{Op: OpFrame, Payload: []byte("{not json")})
	assert.ErrorIs(t, err, domain.ErrProtocol)
}

func TestOpCodeString(t *testing.T) {
	assert.Equal(t, "Handshake", OpHandshake.String())
	assert.Equal(t, "Pong", OpPong.String())
	assert.Equal(t, "OpCode(7)", OpCode(7).String())
}

var _ io.Reader = (*stepReader)(nil)
