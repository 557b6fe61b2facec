//go:build !windows

package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
)

// sandboxDirs are the subdirectories Flatpak and Snap builds of the peer
// create their sockets under, relative to the runtime dir.
var sandboxDirs = []string{
	"",
	filepath.Join("app", "com.discordapp.Discord"),
	"snap.discord",
}

// runtimeDir returns the first non-empty of XDG_RUNTIME_DIR, TMPDIR, TMP,
// TEMP, falling back to /tmp.
func runtimeDir() string {
	for _, key := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "/tmp"
}

// Candidates lists socket paths in probe order: index first, then sandbox
// directory, so discord-ipc-0 wins over discord-ipc-1 wherever it lives.
func Candidates() []string {
	base := runtimeDir()
	out := make([]string, 0, MaxEndpoints*len(sandboxDirs))
	for i := 0; i < MaxEndpoints; i++ {
		for _, sub := range sandboxDirs {
			out = append(out, filepath.Join(base, sub, endpointPrefix+strconv.Itoa(i)))
		}
	}
	return out
}

func dialEndpoint(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", endpoint)
}
