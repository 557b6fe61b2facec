package gateway

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a request carries no valid credentials.
var ErrUnauthorized = errors.New("gateway: unauthorized")

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway requests.
type Authenticator interface {
	Authenticate(r *http.Request) (*ClientInfo, error)
}

// Token is one accepted access token.
type Token struct {
	Value string
	Name  string
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list using
// constant-time comparison. The token is read from an
// "Authorization: Bearer" header or, for browsers opening a WebSocket, from
// the "token" query parameter.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from tokens.
func NewStaticTokenAuth(tokens []Token) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, len(tokens))}
	for i, t := range tokens {
		a.entries[i] = authEntry{
			token: []byte(t.Value),
			info:  &ClientInfo{Name: t.Name},
		}
	}
	return a
}

// Authenticate returns client info if the request carries a known token.
func (s *StaticTokenAuth) Authenticate(r *http.Request) (*ClientInfo, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, ErrUnauthorized
	}
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, ErrUnauthorized
}

// LoopbackAuth admits any client connecting from a loopback address.
type LoopbackAuth struct{}

// Authenticate implements Authenticator.
func (LoopbackAuth) Authenticate(r *http.Request) (*ClientInfo, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return &ClientInfo{Name: "local"}, nil
	}
	return nil, ErrUnauthorized
}

// NewAuthenticator returns token auth when tokens are configured and
// loopback-only auth otherwise.
func NewAuthenticator(tokens []Token) Authenticator {
	if len(tokens) == 0 {
		return LoopbackAuth{}
	}
	return NewStaticTokenAuth(tokens)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
