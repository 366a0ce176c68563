package nostr

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Well-known kinds
const (
	KindProfile  = 0
	KindNote     = 1
	KindContacts = 3
	KindLongForm = 30023
)

// ProfileMetadata is the decoded content of a kind 0 event
type ProfileMetadata struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Website     string `json:"website,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	Lud06       string `json:"lud06,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
}

// ParseProfile decodes a kind 0 event's content
func ParseProfile(event *nostr.Event) (*ProfileMetadata, error) {
	if event == nil {
		return nil, fmt.Errorf("no profile event")
	}
	if event.Kind != KindProfile {
		return nil, fmt.Errorf("expected kind %d, got %d", KindProfile, event.Kind)
	}

	var meta ProfileMetadata
	if err := json.Unmarshal([]byte(event.Content), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse profile content: %w", err)
	}
	return &meta, nil
}

// BestName returns the most human-friendly name available
func (m *ProfileMetadata) BestName() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}
