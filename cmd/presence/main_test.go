package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-rpc/internal/infra/config"
	"discord-rpc/internal/testutil/ipcfake"
	"discord-rpc/pkg/rpcsdk"
)

const testConfig = `
client_id: "1045800378228281345"
logger:
  output: discard
connection:
  poll_timeout: 5ms
  pump_interval: 1ms
  backoff:
    initial: 1ms
presence:
  details: "from config"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presence.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes the CLI against dialer and returns its output.
func run(t *testing.T, dialer rpcsdk.Dialer, args ...string) (string, error) {
	t.Helper()
	a := &app{dialer: dialer}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// runContext is run with a caller-controlled context, as a signal would give.
func runContext(ctx context.Context, dialer rpcsdk.Dialer, out *bytes.Buffer, args ...string) error {
	root := newRootCmd(&app{dialer: dialer})
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func setActivityArgs(t *testing.T, conn *ipcfake.Conn) []rpcsdk.SetActivityArgs {
	t.Helper()
	var out []rpcsdk.SetActivityArgs
	for _, env := range conn.SentEnvelopes() {
		if env.Cmd != rpcsdk.CmdSetActivity {
			continue
		}
		var args rpcsdk.SetActivityArgs
		require.NoError(t, json.Unmarshal(env.Args, &args))
		out = append(out, args)
	}
	return out
}

func TestVersionShort(t *testing.T) {
	out, err := run(t, nil, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestSetOnce(t *testing.T) {
	dialer := ipcfake.PeerDialer(ipcfake.Echo)
	path := writeConfig(t, testConfig)

	out, err := run(t, dialer, "--config", path, "set", "--state", "testing", "--once", "--timeout", "2s")
	require.NoError(t, err)
	assert.Contains(t, out, "activity published")
	assert.Contains(t, out, "testing")
	assert.Contains(t, out, "from config")

	sent := dialer.Last().SentEnvelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, rpcsdk.CmdSetActivity, sent[0].Cmd)
	var args rpcsdk.SetActivityArgs
	require.NoError(t, json.Unmarshal(sent[0].Args, &args))
	require.NotNil(t, args.Activity)
	assert.Equal(t, "testing", args.Activity.State)
	assert.Equal(t, "from config", args.Activity.Details)
}

func TestSetClearsOnInterrupt(t *testing.T) {
	dialer := ipcfake.PeerDialer(ipcfake.Echo)
	path := writeConfig(t, testConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runContext(ctx, dialer, &out, "--config", path, "set", "--state", "testing", "--timeout", "2s")
	}()

	require.Eventually(t, func() bool {
		conn := dialer.Last()
		return conn != nil && len(setActivityArgs(t, conn)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("set did not return after interrupt")
	}

	require.Len(t, dialer.Conns(), 1)
	sent := setActivityArgs(t, dialer.Last())
	require.Len(t, sent, 2)
	require.NotNil(t, sent[0].Activity)
	assert.Equal(t, "testing", sent[0].Activity.State)
	assert.Nil(t, sent[1].Activity, "second SET_ACTIVITY must clear")
	assert.NotContains(t, out.String(), "could not clear")
	assert.True(t, dialer.Last().Closed())
}

func TestSetCommandFailed(t *testing.T) {
	path := writeConfig(t, testConfig)
	_, err := run(t, ipcfake.PeerDialer(ipcfake.Reject(4000, "nope")), "--config", path, "set", "--once", "--timeout", "2s")
	require.Error(t, err)
	assert.ErrorIs(t, err, rpcsdk.ErrCommandFailed)
}

func TestSetBadButton(t *testing.T) {
	path := writeConfig(t, testConfig)
	_, err := run(t, ipcfake.PeerDialer(ipcfake.Echo), "--config", path, "set", "--button", "no-url", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LABEL=URL")
}

func TestClear(t *testing.T) {
	dialer := ipcfake.PeerDialer(ipcfake.Echo)
	path := writeConfig(t, testConfig)

	out, err := run(t, dialer, "--config", path, "clear", "--timeout", "2s")
	require.NoError(t, err)
	assert.Contains(t, out, "activity cleared")

	sent := dialer.Last().SentEnvelopes()
	require.Len(t, sent, 1)
	assert.NotContains(t, string(sent[0].Args), "activity")
}

func TestStatusJSON(t *testing.T) {
	path := writeConfig(t, testConfig)
	out, err := run(t, ipcfake.PeerDialer(nil), "--config", path, "status", "--json", "--timeout", "2s")
	require.NoError(t, err)

	var ready rpcsdk.ReadyEvent
	require.NoError(t, json.Unmarshal([]byte(out), &ready))
	assert.Equal(t, "tester", ready.User.Username)
	assert.Equal(t, 1, ready.V)
}

func TestStatusNoDiscord(t *testing.T) {
	path := writeConfig(t, testConfig)
	_, err := run(t, ipcfake.RefusingDialer(), "--config", path, "status", "--timeout", "50ms")
	require.Error(t, err)
}

func TestMissingClientID(t *testing.T) {
	path := writeConfig(t, "logger:\n  output: discard\n")
	t.Setenv("DRPC_CLIENT_ID", "")
	_, err := run(t, ipcfake.PeerDialer(nil), "--config", path, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no client id")
}

func TestClientIDFlagOverridesConfig(t *testing.T) {
	path := writeConfig(t, testConfig)
	a := &app{configPath: path, clientID: "42"}
	require.NoError(t, a.init(t.Context()))
	defer a.close()
	assert.Equal(t, "42", a.cfg.ClientID)
}

func TestParseButtons(t *testing.T) {
	got, err := parseButtons([]string{"Site=https://example.com", "Docs=https://example.com/a=b"})
	require.NoError(t, err)
	assert.Equal(t, []config.ButtonConfig{
		{Label: "Site", URL: "https://example.com"},
		{Label: "Docs", URL: "https://example.com/a=b"},
	}, got)

	for _, bad := range []string{"", "=https://x", "label=", "label"} {
		_, err := parseButtons([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestActivityFromConfig(t *testing.T) {
	started := time.UnixMilli(1_700_000_000_000)
	act, err := activityFromConfig(config.PresenceConfig{
		State:       "Coding",
		Details:     "main.go",
		LargeImage:  "go",
		LargeText:   "Go",
		ShowElapsed: true,
		Buttons:     []config.ButtonConfig{{Label: "Repo", URL: "https://example.com"}},
	}, started)
	require.NoError(t, err)

	assert.Equal(t, "Coding", act.State)
	require.NotNil(t, act.Assets)
	assert.Equal(t, "go", act.Assets.LargeImage)
	assert.Empty(t, act.Assets.SmallImage)
	require.NotNil(t, act.Timestamps)
	assert.Equal(t, started.UnixMilli(), act.Timestamps.Start)
	assert.Len(t, act.Buttons, 1)

	_, err = activityFromConfig(config.PresenceConfig{State: "x"}, started)
	assert.ErrorIs(t, err, rpcsdk.ErrInvalidInput)
}

func TestRenderActivity(t *testing.T) {
	size := [2]int{2, 4}
	out := renderActivity(&rpcsdk.Activity{
		State:   "In a match",
		Party:   &rpcsdk.Party{Size: &size},
		Buttons: []rpcsdk.Button{{Label: "Join", URL: "https://example.com"}},
	})
	for _, want := range []string{"Activity", "In a match", "2 of 4", "Join"} {
		assert.True(t, strings.Contains(out, want), "missing %q in\n%s", want, out)
	}
}
