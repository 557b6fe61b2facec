//go:build windows

package transport

import (
	"context"
	"net"
	"strconv"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

// Candidates lists named pipe paths in probe order.
func Candidates() []string {
	out := make([]string, 0, MaxEndpoints)
	for i := 0; i < MaxEndpoints; i++ {
		out = append(out, pipePrefix+endpointPrefix+strconv.Itoa(i))
	}
	return out
}

// dialEndpoint opens the pipe in overlapped mode so reads honour deadlines.
func dialEndpoint(ctx context.Context, endpoint string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, endpoint)
}
