package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/zapline/internal/devrelay"
	"github.com/sandwichfarm/zapline/internal/nostr/nostrtest"
	"github.com/sandwichfarm/zapline/internal/ops"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// startDevRelay serves an in-memory relay and returns it with a config file pointing at it
func startDevRelay(t *testing.T) (*devrelay.Relay, string) {
	t.Helper()
	rl, err := devrelay.New("test", ops.Discard())
	require.NoError(t, err)
	srv := httptest.NewServer(rl)
	t.Cleanup(func() {
		srv.Close()
		rl.Close()
	})

	dir := t.TempDir()
	cfg := fmt.Sprintf(`relays:
  seeds:
    - %s
caching:
  enabled: true
  engine: memory
logging:
  level: error
preferences:
  path: %s
`, "ws"+strings.TrimPrefix(srv.URL, "http"), filepath.Join(dir, "prefs.json"))

	path := filepath.Join(dir, "zapline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return rl, path
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("json"))
	assert.True(t, isValidFormat("text"))
	assert.False(t, isValidFormat("xml"))

	_, err := run(t, "--format", "xml", "version")
	assert.ErrorContains(t, err, "invalid format")
}

func TestVersionAndInit(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "zapline "+version)

	out, err = run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "seeds:")

	path := filepath.Join(t.TempDir(), "zapline.yaml")
	_, err = run(t, "init", "-o", path)
	require.NoError(t, err)
	_, err = run(t, "init", "-o", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = run(t, "init", "-o", path, "--force")
	assert.NoError(t, err)
}

func TestCommandsRequireIdentity(t *testing.T) {
	_, cfg := startDevRelay(t)
	t.Setenv("ZAPLINE_NSEC", "")
	t.Setenv("ZAPLINE_NPUB", "")

	bob := nostrtest.NewIdentity()
	_, err := run(t, "-c", cfg, "follow", bob.PublicKey)
	assert.Error(t, err)

	_, err = run(t, "-c", cfg, "notifications")
	assert.Error(t, err)
}

func TestFollowAndFeedEndToEnd(t *testing.T) {
	ctx := context.Background()
	rl, cfg := startDevRelay(t)

	alice := nostrtest.NewIdentity()
	bob := nostrtest.NewIdentity()
	t.Setenv("ZAPLINE_NSEC", alice.SecretKey)
	t.Setenv("ZAPLINE_NPUB", "")

	note := bob.Event(t, 1, "gm nostr", nil, nostr.Now()-60)
	require.NoError(t, rl.StoreEvent(ctx, note))
	require.NoError(t, rl.StoreEvent(ctx, bob.Event(t, 0, `{"name":"bob"}`, nil, nostr.Now()-120)))

	bobNpub, err := nip19.EncodePublicKey(bob.PublicKey)
	require.NoError(t, err)

	out, err := run(t, "-c", cfg, "follow", bobNpub)
	require.NoError(t, err)
	assert.Contains(t, out, "followed "+bobNpub+", now following 1")

	out, err = run(t, "-c", cfg, "--format", "json", "following")
	require.NoError(t, err)
	assert.Contains(t, out, bob.PublicKey)

	out, err = run(t, "-c", cfg, "feed")
	require.NoError(t, err)
	assert.Contains(t, out, "gm nostr")
	assert.Contains(t, out, " bob ", "author names are resolved")

	out, err = run(t, "-c", cfg, "explore")
	require.NoError(t, err)
	assert.Contains(t, out, "gm nostr")
	assert.Contains(t, out, bobNpub)

	out, err = run(t, "-c", cfg, "suggest")
	require.NoError(t, err)
	assert.Contains(t, out, "no suggestions")

	var backup bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&backup)
	cmd.SetArgs([]string{"-c", cfg, "backup"})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Equal(t, 1, strings.Count(backup.String(), "\n"), "only the follow list exists")

	out, err = run(t, "-c", cfg, "unfollow", bobNpub)
	require.NoError(t, err)
	assert.Contains(t, out, "now following 0")
}
