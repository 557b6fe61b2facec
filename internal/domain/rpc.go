package domain

import "encoding/json"

// Command is an RPC command token.
type Command string

const (
	CmdDispatch               Command = "DISPATCH"
	CmdAuthorize              Command = "AUTHORIZE"
	CmdAuthenticate           Command = "AUTHENTICATE"
	CmdSubscribe              Command = "SUBSCRIBE"
	CmdUnsubscribe            Command = "UNSUBSCRIBE"
	CmdSetActivity            Command = "SET_ACTIVITY"
	CmdSendActivityJoinInvite Command = "SEND_ACTIVITY_JOIN_INVITE"
	CmdCloseActivityRequest   Command = "CLOSE_ACTIVITY_REQUEST"
)

// Event is an RPC event token. Events tag both responses (ERROR) and
// asynchronous notifications (ACTIVITY_JOIN, ...).
type Event string

const (
	EvtReady               Event = "READY"
	EvtError               Event = "ERROR"
	EvtActivityJoin        Event = "ACTIVITY_JOIN"
	EvtActivitySpectate    Event = "ACTIVITY_SPECTATE"
	EvtActivityJoinRequest Event = "ACTIVITY_JOIN_REQUEST"
)

// Envelope is the JSON body of an application frame.
type Envelope struct {
	Cmd   Command         `json:"cmd,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Evt   Event           `json:"evt,omitempty"`
	Nonce string          `json:"nonce,omitempty"`
}

// IsDispatch reports whether the envelope is an unsolicited event rather
// than the answer to a request.
func (e *Envelope) IsDispatch() bool {
	return e.Cmd == CmdDispatch && e.Nonce == ""
}

// IsError reports whether the peer rejected the request.
func (e *Envelope) IsError() bool {
	return e.Evt == EvtError
}

// ErrorData is the data body of an ERROR event.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CommandError converts an ERROR envelope into a typed error.
// Malformed error bodies still produce a CommandError, with code 0.
func (e *Envelope) CommandError() *CommandError {
	var data ErrorData
	if len(e.Data) > 0 {
		_ = json.Unmarshal(e.Data, &data)
	}
	return &CommandError{Cmd: e.Cmd, Code: data.Code, Message: data.Message}
}

// HandshakeRequest is the body of the handshake frame.
type HandshakeRequest struct {
	Version  int    `json:"v"`
	ClientID string `json:"client_id"`
}

// CloseData is the body of a close frame sent by the peer.
type CloseData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
