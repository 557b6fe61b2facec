package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeOmitsAbsentFields(t *testing.T) {
	b, err := json.Marshal(Envelope{Cmd: CmdSetActivity, Nonce: "n1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cmd":"SET_ACTIVITY","nonce":"n1"}`, string(b))
	assert.NotContains(t, string(b), "null")
}

func TestEnvelopeDecodesNullEvent(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"cmd":"SET_ACTIVITY","data":{"state":"testing"},"evt":null}`), &env)
	require.NoError(t, err)
	assert.Equal(t, CmdSetActivity, env.Cmd)
	assert.Equal(t, Event(""), env.Evt)
	assert.False(t, env.IsError())
	assert.JSONEq(t, `{"state":"testing"}`, string(env.Data))
}

func TestEnvelopeIsDispatch(t *testing.T) {
	assert.True(t, (&Envelope{Cmd: CmdDispatch, Evt: EvtActivityJoin}).IsDispatch())
	assert.False(t, (&Envelope{Cmd: CmdDispatch, Nonce: "x"}).IsDispatch())
	assert.False(t, (&Envelope{Cmd: CmdSubscribe}).IsDispatch())
}

func TestEnvelopeCommandError(t *testing.T) {
	env := Envelope{
		Cmd:  CmdSetActivity,
		Evt:  EvtError,
		Data: json.RawMessage(`{"code":4000,"message":"child \"activity\" fails"}`),
	}
	require.True(t, env.IsError())
	ce := env.CommandError()
	assert.Equal(t, 4000, ce.Code)
	assert.Equal(t, `child "activity" fails`, ce.Message)
	assert.Equal(t, CmdSetActivity, ce.Cmd)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "handshaking", StateHandshaking.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "exhausted", StateExhausted.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
