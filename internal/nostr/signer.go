package nostr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var (
	// ErrUnauthenticated means no identity is available for a mutating operation
	ErrUnauthenticated = errors.New("no signing identity available")
	// ErrSignerDeclined means the signer refused or failed to sign
	ErrSignerDeclined = errors.New("signer declined to sign")
	// ErrForeignIdentity means a mutation targeted an identity the signer does not hold
	ErrForeignIdentity = errors.New("identity does not match signer")
)

// Signer is a signing capability held by the caller
type Signer interface {
	GetPublicKey(ctx context.Context) (string, error)
	// SignEvent sets PubKey, ID and Sig on ev
	SignEvent(ctx context.Context, ev *nostr.Event) error
}

// KeySigner signs with an in-process secret key
type KeySigner struct {
	secret string
	pubkey string
}

// NewKeySigner accepts a hex secret key or an nsec1 string
func NewKeySigner(secret string) (*KeySigner, error) {
	secret = strings.TrimSpace(secret)
	if strings.HasPrefix(secret, "nsec1") {
		prefix, value, err := nip19.Decode(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return nil, fmt.Errorf("expected nsec, got %s", prefix)
		}
		secret = value.(string)
	}

	pubkey, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}

	return &KeySigner{secret: secret, pubkey: pubkey}, nil
}

// GenerateKeySigner creates a signer for a fresh random key
func GenerateKeySigner() *KeySigner {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	return &KeySigner{secret: sk, pubkey: pk}
}

func (s *KeySigner) GetPublicKey(context.Context) (string, error) {
	return s.pubkey, nil
}

func (s *KeySigner) SignEvent(_ context.Context, ev *nostr.Event) error {
	ev.PubKey = s.pubkey
	if err := ev.Sign(s.secret); err != nil {
		return fmt.Errorf("%w: %v", ErrSignerDeclined, err)
	}
	return nil
}

// RequireIdentity resolves the signer's public key, failing with ErrUnauthenticated
// before any network work is started
func RequireIdentity(ctx context.Context, signer Signer) (string, error) {
	if signer == nil {
		return "", ErrUnauthenticated
	}
	pk, err := signer.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if pk == "" {
		return "", ErrUnauthenticated
	}
	return pk, nil
}

// RequireOwnIdentity checks that identity is the signer's key
func RequireOwnIdentity(ctx context.Context, signer Signer, identity string) error {
	pk, err := RequireIdentity(ctx, signer)
	if err != nil {
		return err
	}
	if identity != pk {
		return ErrForeignIdentity
	}
	return nil
}

// Sign signs ev with signer, normalising failures to ErrSignerDeclined
func Sign(ctx context.Context, signer Signer, ev *nostr.Event) error {
	if signer == nil {
		return ErrUnauthenticated
	}
	if err := signer.SignEvent(ctx, ev); err != nil {
		if errors.Is(err, ErrSignerDeclined) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSignerDeclined, err)
	}
	return nil
}

// DecodePubkey accepts a hex pubkey or an npub1/nprofile1 string
func DecodePubkey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub1") || strings.HasPrefix(s, "nprofile1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", s, err)
		}
		switch prefix {
		case "npub":
			return value.(string), nil
		case "nprofile":
			return value.(nostr.ProfilePointer).PublicKey, nil
		}
	}
	if !IsHex64(s) {
		return "", fmt.Errorf("invalid pubkey: %q", s)
	}
	return strings.ToLower(s), nil
}

// DecodeEventID accepts a hex id or a note1/nevent1 string
func DecodeEventID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "note1") || strings.HasPrefix(s, "nevent1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", s, err)
		}
		switch prefix {
		case "note":
			return value.(string), nil
		case "nevent":
			return value.(nostr.EventPointer).ID, nil
		}
	}
	if !IsHex64(s) {
		return "", fmt.Errorf("invalid event id: %q", s)
	}
	return strings.ToLower(s), nil
}

// IsHex64 reports whether s is a 32-byte hex string
func IsHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
