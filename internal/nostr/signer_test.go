package nostr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestNewKeySigner(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"hex", sk, false},
		{"nsec", nsec, false},
		{"padded", "  " + sk + "\n", false},
		{"garbage", "not-a-key", true},
		{"bad nsec", "nsec1qqqq", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewKeySigner(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewKeySigner() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			got, _ := s.GetPublicKey(context.Background())
			if got != pk {
				t.Errorf("Expected pubkey %s, got %s", pk, got)
			}
		})
	}
}

func TestKeySignerSignsValidEvents(t *testing.T) {
	s := GenerateKeySigner()
	ev := &nostr.Event{Kind: 1, Content: "hello", CreatedAt: nostr.Now()}

	if err := Sign(context.Background(), s, ev); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	ok, err := ev.CheckSignature()
	if err != nil || !ok {
		t.Errorf("Expected valid signature, got ok=%v err=%v", ok, err)
	}
}

type failingSigner struct{}

func (failingSigner) GetPublicKey(context.Context) (string, error) {
	return "", errors.New("locked")
}

func (failingSigner) SignEvent(context.Context, *nostr.Event) error {
	return errors.New("user cancelled")
}

func TestRequireIdentity(t *testing.T) {
	ctx := context.Background()

	if _, err := RequireIdentity(ctx, nil); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated for nil signer, got %v", err)
	}
	if _, err := RequireIdentity(ctx, failingSigner{}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated for locked signer, got %v", err)
	}

	s := GenerateKeySigner()
	pk, err := RequireIdentity(ctx, s)
	if err != nil || !IsHex64(pk) {
		t.Errorf("Expected pubkey, got %q err=%v", pk, err)
	}

	if err := RequireOwnIdentity(ctx, s, strings.Repeat("a", 64)); !errors.Is(err, ErrForeignIdentity) {
		t.Errorf("Expected ErrForeignIdentity, got %v", err)
	}
	if err := RequireOwnIdentity(ctx, s, pk); err != nil {
		t.Errorf("Expected own identity to pass, got %v", err)
	}
}

func TestSignNormalisesFailures(t *testing.T) {
	err := Sign(context.Background(), failingSigner{}, &nostr.Event{})
	if !errors.Is(err, ErrSignerDeclined) {
		t.Errorf("Expected ErrSignerDeclined, got %v", err)
	}
	if err := Sign(context.Background(), nil, &nostr.Event{}); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
}

func TestDecodePubkey(t *testing.T) {
	pk := strings.Repeat("ab", 32)
	npub, _ := nip19.EncodePublicKey(pk)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{pk, pk, false},
		{strings.ToUpper(pk), pk, false},
		{npub, pk, false},
		{"abc", "", true},
	}

	for _, tt := range tests {
		got, err := DecodePubkey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodePubkey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodePubkey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeEventID(t *testing.T) {
	id := strings.Repeat("cd", 32)
	note, _ := nip19.EncodeNote(id)

	if got, err := DecodeEventID(note); err != nil || got != id {
		t.Errorf("DecodeEventID(note) = %q, %v", got, err)
	}
	if _, err := DecodeEventID("xyz"); err == nil {
		t.Error("Expected error for invalid id")
	}
}

func TestParseProfile(t *testing.T) {
	ev := &nostr.Event{Kind: 0, Content: `{"name":"alice","display_name":"Alice","lud16":"alice@example.com"}`}
	meta, err := ParseProfile(ev)
	if err != nil {
		t.Fatalf("ParseProfile() error = %v", err)
	}
	if meta.Lud16 != "alice@example.com" || meta.BestName() != "Alice" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}

	if _, err := ParseProfile(&nostr.Event{Kind: 0, Content: "{"}); err == nil {
		t.Error("Expected error for malformed content")
	}
	if _, err := ParseProfile(&nostr.Event{Kind: 1, Content: "{}"}); err == nil {
		t.Error("Expected error for wrong kind")
	}
}
