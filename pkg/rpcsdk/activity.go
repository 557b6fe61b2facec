package rpcsdk

import (
	"errors"
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"

	"discord-rpc/internal/domain"
)

// Field limits enforced by the desktop client.
const (
	minTextLen     = 2
	maxTextLen     = 128
	maxButtons     = 2
	maxButtonLabel = 32
)

// Activity is a rich presence payload. Every field is optional; the zero
// value marshals to {}.
type Activity struct {
	State      string      `json:"state,omitempty"`
	Details    string      `json:"details,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Party      *Party      `json:"party,omitempty"`
	Secrets    *Secrets    `json:"secrets,omitempty"`
	Buttons    []Button    `json:"buttons,omitempty"`
	Instance   *bool       `json:"instance,omitempty"`
}

// Timestamps are unix milliseconds. Start renders "elapsed", End "remaining".
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// Assets reference art uploaded for the application.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Party describes the player's group. Size is [current, max].
type Party struct {
	ID   string  `json:"id,omitempty"`
	Size *[2]int `json:"size,omitempty"`
}

// Secrets enable join and spectate buttons.
type Secrets struct {
	Join     string `json:"join,omitempty"`
	Spectate string `json:"spectate,omitempty"`
	Match    string `json:"match,omitempty"`
}

// Button is a link shown under the activity.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Validate checks the activity against the desktop client's limits.
func (a Activity) Validate() error {
	var errs []error
	check := func(field, v string) {
		if v == "" {
			return
		}
		if n := utf8.RuneCountInString(v); n < minTextLen || n > maxTextLen {
			errs = append(errs, fmt.Errorf("%s must be %d-%d characters, got %d", field, minTextLen, maxTextLen, n))
		}
	}
	check("state", a.State)
	check("details", a.Details)
	if a.Assets != nil {
		check("assets.large_text", a.Assets.LargeText)
		check("assets.small_text", a.Assets.SmallText)
	}

	if t := a.Timestamps; t != nil && t.Start > 0 && t.End > 0 && t.End < t.Start {
		errs = append(errs, errors.New("timestamps.end must not be before timestamps.start"))
	}

	if p := a.Party; p != nil && p.Size != nil {
		cur, size := p.Size[0], p.Size[1]
		if cur < 0 || size < 1 || cur > size {
			errs = append(errs, fmt.Errorf("party.size [%d,%d] must satisfy 0 <= current <= max, max >= 1", cur, size))
		}
	}

	if len(a.Buttons) > maxButtons {
		errs = append(errs, fmt.Errorf("at most %d buttons allowed, got %d", maxButtons, len(a.Buttons)))
	}
	for i, b := range a.Buttons {
		if n := utf8.RuneCountInString(b.Label); n == 0 || n > maxButtonLabel {
			errs = append(errs, fmt.Errorf("buttons[%d].label must be 1-%d characters", i, maxButtonLabel))
		}
		if u, err := url.Parse(b.URL); b.URL == "" || err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Errorf("buttons[%d].url %q must be an absolute URL", i, b.URL))
		}
	}

	if len(a.Buttons) > 0 && a.Secrets != nil && (a.Secrets.Join != "" || a.Secrets.Spectate != "") {
		errs = append(errs, errors.New("buttons cannot be combined with join or spectate secrets"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// ActivityBuilder assembles an Activity fluently. Build validates.
type ActivityBuilder struct {
	a Activity
}

// NewActivity starts an empty activity.
func NewActivity() *ActivityBuilder {
	return &ActivityBuilder{}
}

func (b *ActivityBuilder) State(s string) *ActivityBuilder {
	b.a.State = s
	return b
}

func (b *ActivityBuilder) Details(s string) *ActivityBuilder {
	b.a.Details = s
	return b
}

// StartedAt shows elapsed time since t.
func (b *ActivityBuilder) StartedAt(t time.Time) *ActivityBuilder {
	b.timestamps().Start = t.UnixMilli()
	return b
}

// EndsAt shows time remaining until t.
func (b *ActivityBuilder) EndsAt(t time.Time) *ActivityBuilder {
	b.timestamps().End = t.UnixMilli()
	return b
}

func (b *ActivityBuilder) LargeImage(key, text string) *ActivityBuilder {
	b.assets().LargeImage, b.assets().LargeText = key, text
	return b
}

func (b *ActivityBuilder) SmallImage(key, text string) *ActivityBuilder {
	b.assets().SmallImage, b.assets().SmallText = key, text
	return b
}

// Party sets the party id and size.
func (b *ActivityBuilder) Party(id string, current, size int) *ActivityBuilder {
	b.a.Party = &Party{ID: id, Size: &[2]int{current, size}}
	return b
}

func (b *ActivityBuilder) Secrets(join, spectate, match string) *ActivityBuilder {
	b.a.Secrets = &Secrets{Join: join, Spectate: spectate, Match: match}
	return b
}

func (b *ActivityBuilder) Button(label, url string) *ActivityBuilder {
	b.a.Buttons = append(b.a.Buttons, Button{Label: label, URL: url})
	return b
}

func (b *ActivityBuilder) Instance(v bool) *ActivityBuilder {
	b.a.Instance = &v
	return b
}

// Build returns the activity, or an error wrapping ErrInvalidInput.
func (b *ActivityBuilder) Build() (Activity, error) {
	if err := b.a.Validate(); err != nil {
		return Activity{}, err
	}
	return b.a, nil
}

func (b *ActivityBuilder) timestamps() *Timestamps {
	if b.a.Timestamps == nil {
		b.a.Timestamps = &Timestamps{}
	}
	return b.a.Timestamps
}

func (b *ActivityBuilder) assets() *Assets {
	if b.a.Assets == nil {
		b.a.Assets = &Assets{}
	}
	return b.a.Assets
}

// SetActivityArgs are the args of SET_ACTIVITY. A nil Activity clears it.
type SetActivityArgs struct {
	PID      int       `json:"pid"`
	Activity *Activity `json:"activity,omitempty"`
}

// ActivityInviteArgs are the args of SEND_ACTIVITY_JOIN_INVITE and
// CLOSE_ACTIVITY_REQUEST.
type ActivityInviteArgs struct {
	UserID string `json:"user_id"`
}

// Subscription is the data returned by SUBSCRIBE and UNSUBSCRIBE.
type Subscription struct {
	Evt Event `json:"evt"`
}

// PartialUser is the user object carried by READY and join requests.
type PartialUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// ServerConfig describes the desktop client's environment.
type ServerConfig struct {
	CDNHost     string `json:"cdn_host"`
	APIEndpoint string `json:"api_endpoint"`
	Environment string `json:"environment"`
}

// ReadyEvent is the data of the READY dispatch received at handshake.
type ReadyEvent struct {
	V      int          `json:"v"`
	Config ServerConfig `json:"config"`
	User   PartialUser  `json:"user"`
}

// ActivityJoinEvent fires when the user accepted an invite.
type ActivityJoinEvent struct {
	Secret string `json:"secret"`
}

// ActivitySpectateEvent fires when the user clicked "Spectate".
type ActivitySpectateEvent struct {
	Secret string `json:"secret"`
}

// ActivityJoinRequestEvent fires when someone asks to join the user.
type ActivityJoinRequestEvent struct {
	User PartialUser `json:"user"`
}
