package rpcsdk

import "discord-rpc/internal/domain"

// Protocol types re-exported for callers outside this module.
type (
	Command         = domain.Command
	Event           = domain.Event
	Envelope        = domain.Envelope
	Notification    = domain.Notification
	ConnectionState = domain.ConnectionState
	CommandError    = domain.CommandError
	Dialer          = domain.Dialer
)

const (
	CmdDispatch               = domain.CmdDispatch
	CmdAuthorize              = domain.CmdAuthorize
	CmdAuthenticate           = domain.CmdAuthenticate
	CmdSubscribe              = domain.CmdSubscribe
	CmdUnsubscribe            = domain.CmdUnsubscribe
	CmdSetActivity            = domain.CmdSetActivity
	CmdSendActivityJoinInvite = domain.CmdSendActivityJoinInvite
	CmdCloseActivityRequest   = domain.CmdCloseActivityRequest

	EvtReady               = domain.EvtReady
	EvtError               = domain.EvtError
	EvtActivityJoin        = domain.EvtActivityJoin
	EvtActivitySpectate    = domain.EvtActivitySpectate
	EvtActivityJoinRequest = domain.EvtActivityJoinRequest

	StateDisconnected = domain.StateDisconnected
	StateConnecting   = domain.StateConnecting
	StateHandshaking  = domain.StateHandshaking
	StateConnected    = domain.StateConnected
	StateExhausted    = domain.StateExhausted
)

// Errors callers can match with errors.Is.
var (
	ErrCommandFailed    = domain.ErrCommandFailed
	ErrRetriesExhausted = domain.ErrRetriesExhausted
	ErrClosed           = domain.ErrClosed
	ErrNotStarted       = domain.ErrNotStarted
	ErrInvalidInput     = domain.ErrInvalidInput
	ErrProtocol         = domain.ErrProtocol
)
