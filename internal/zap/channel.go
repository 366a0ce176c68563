package zap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ChannelKind identifies a payment channel in the fallback chain
type ChannelKind int

const (
	// External is a remote wallet reached over a wallet connection
	External ChannelKind = iota
	// InEnvironment is a payment provider available to the running process
	InEnvironment
	// Manual hands the invoice to the user
	Manual
)

func (k ChannelKind) String() string {
	switch k {
	case External:
		return "external"
	case InEnvironment:
		return "in-environment"
	default:
		return "manual"
	}
}

// Channel settles invoices. Channels are tried in order; the manual channel
// is implicit and always last.
type Channel interface {
	Kind() ChannelKind
	// Available reports whether the channel is configured and connected
	Available() bool
	// Attempt pays invoice, returning nil only when payment succeeded
	Attempt(ctx context.Context, invoice string) error
}

// Provider pays invoices from within the running environment
type Provider interface {
	SendPayment(ctx context.Context, invoice string) (preimage string, err error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, invoice string) (string, error)

func (f ProviderFunc) SendPayment(ctx context.Context, invoice string) (string, error) {
	return f(ctx, invoice)
}

// ProviderChannel is the in-environment channel
type ProviderChannel struct {
	provider Provider
}

// NewProviderChannel wraps provider; a nil provider is never available
func NewProviderChannel(provider Provider) *ProviderChannel {
	return &ProviderChannel{provider: provider}
}

func (c *ProviderChannel) Kind() ChannelKind { return InEnvironment }

func (c *ProviderChannel) Available() bool { return c.provider != nil }

func (c *ProviderChannel) Attempt(ctx context.Context, invoice string) error {
	if c.provider == nil {
		return errors.New("no payment provider")
	}
	if _, err := c.provider.SendPayment(ctx, invoice); err != nil {
		return fmt.Errorf("provider payment failed: %w", err)
	}
	return nil
}

// CommandProvider pays by running an external command with the invoice as its
// last argument. The command's trimmed stdout is the preimage.
type CommandProvider struct {
	Args []string
}

func (p *CommandProvider) SendPayment(ctx context.Context, invoice string) (string, error) {
	if len(p.Args) == 0 {
		return "", errors.New("no payment command configured")
	}

	args := append(append([]string{}, p.Args[1:]...), invoice)
	cmd := exec.CommandContext(ctx, p.Args[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %w: %s", p.Args[0], err, msg)
		}
		return "", fmt.Errorf("%s: %w", p.Args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}
