package gateway

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestStaticTokenAuth(t *testing.T) {
	auth := NewStaticTokenAuth([]Token{{Value: "secret-token-1234", Name: "obs"}})

	tests := []struct {
		name    string
		header  string
		query   string
		wantErr bool
	}{
		{name: "bearer header", header: "Bearer secret-token-1234"},
		{name: "query param", query: "secret-token-1234"},
		{name: "wrong token", header: "Bearer nope", wantErr: true},
		{name: "basic scheme", header: "Basic secret-token-1234", wantErr: true},
		{name: "header wins over query", header: "Bearer nope", query: "secret-token-1234", wantErr: true},
		{name: "none", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/status"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			info, err := auth.Authenticate(req)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthorized) {
					t.Errorf("err = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if info.Name != "obs" {
				t.Errorf("Name = %q, want obs", info.Name)
			}
		})
	}
}

func TestLoopbackAuth(t *testing.T) {
	tests := []struct {
		remote string
		ok     bool
	}{
		{"127.0.0.1:5000", true},
		{"[::1]:5000", true},
		{"192.0.2.10:5000", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		_, err := LoopbackAuth{}.Authenticate(req)
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v, want ok=%v", tt.remote, err, tt.ok)
		}
	}
}

func TestNewAuthenticator(t *testing.T) {
	if _, ok := NewAuthenticator(nil).(LoopbackAuth); !ok {
		t.Error("no tokens should yield LoopbackAuth")
	}
	if _, ok := NewAuthenticator([]Token{{Value: "x"}}).(*StaticTokenAuth); !ok {
		t.Error("tokens should yield StaticTokenAuth")
	}
}
