package social

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/zapline/internal/nostr/nostrtest"
)

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	alice := nostrtest.NewIdentity()
	bob := nostrtest.NewIdentity()
	now := nostr.Now()

	old := nostrtest.NewEndpoint("wss://old.test")
	profile := alice.Event(t, 0, `{"name":"alice"}`, nil, now-300)
	contacts := alice.Event(t, 3, "", nostr.Tags{{"p", bob.PublicKey}}, now-200)
	old.Add(
		alice.Event(t, 0, `{"name":"stale"}`, nil, now-900),
		profile,
		contacts,
		alice.Event(t, 1, "not backed up", nil, now-100),
	)

	var buf bytes.Buffer
	n, err := newTestGraph(nil, nil, old).Backup(ctx, alice.PublicKey, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	fresh := nostrtest.NewEndpoint("wss://fresh.test")
	newerProfile := alice.Event(t, 0, `{"name":"alice v2"}`, nil, now-10)
	fresh.Add(newerProfile)

	report, err := newTestGraph(nil, nil, fresh).Restore(ctx, &buf, nil)
	require.NoError(t, err)

	require.Len(t, report.Published, 1)
	assert.Equal(t, contacts.ID, report.Published[0].ID)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, profile.ID, report.Skipped[0].ID, "relays already hold a newer profile")

	assert.True(t, fresh.Has(contacts.ID))
	assert.False(t, fresh.Has(profile.ID))
	assert.Equal(t, []string{bob.PublicKey}, newTestGraph(nil, nil, fresh).GetFollowState(ctx, alice.PublicKey).Following)
}

func TestBackupNothingFound(t *testing.T) {
	ep := nostrtest.NewEndpoint("wss://relay.test")
	var buf bytes.Buffer
	_, err := newTestGraph(nil, nil, ep).Backup(context.Background(), nostrtest.NewIdentity().PublicKey, &buf)
	assert.ErrorIs(t, err, ErrNothingToBackup)
	assert.Zero(t, buf.Len())
}

func TestRestoreRejectsBadInput(t *testing.T) {
	alice := nostrtest.NewIdentity()
	now := nostr.Now()

	note := alice.Event(t, 1, "hi", nil, now)
	noteLine, _ := note.MarshalJSON()

	tampered := *alice.Event(t, 0, `{"name":"alice"}`, nil, now)
	tampered.Content = `{"name":"mallory"}`
	tamperedLine, _ := tampered.MarshalJSON()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"garbage", "not json\n", "line 1"},
		{"wrong kind", string(noteLine) + "\n", "kind 1"},
		{"bad signature", "\n" + string(tamperedLine) + "\n", "line 2: invalid signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := nostrtest.NewEndpoint("wss://relay.test")
			_, err := newTestGraph(nil, nil, ep).Restore(context.Background(), strings.NewReader(tt.input), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Zero(t, ep.PublishCount())
		})
	}
}
