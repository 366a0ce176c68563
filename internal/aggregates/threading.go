package aggregates

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// ThreadInfo places a note in its thread
type ThreadInfo struct {
	RootID   string // the root-marked e tag, else the first e tag
	ParentID string // the last e tag, whatever its marker says
}

// ParseThreadInfo reads the e tags of a note. A note without e tags is a root.
func ParseThreadInfo(event *nostr.Event) (*ThreadInfo, error) {
	if !isThreadableKind(event.Kind) {
		return nil, fmt.Errorf("expected threadable kind (1 or 30023), got %d", event.Kind)
	}

	info := &ThreadInfo{}
	var first string
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "e" || tag[1] == "" {
			continue
		}
		if first == "" {
			first = tag[1]
		}
		if info.RootID == "" && len(tag) >= 4 && tag[3] == "root" {
			info.RootID = tag[1]
		}
		info.ParentID = tag[1]
	}
	if info.RootID == "" {
		info.RootID = first
	}
	return info, nil
}

// IsReply returns true if this event is a reply to another event
func (ti *ThreadInfo) IsReply() bool {
	return ti.ParentID != ""
}

// parentOf returns the direct parent of a reply, or "" for roots and non-notes
func parentOf(event *nostr.Event) string {
	info, err := ParseThreadInfo(event)
	if err != nil {
		return ""
	}
	return info.ParentID
}

// IsReplyTo checks if an event is a direct reply to a specific event
func IsReplyTo(event *nostr.Event, targetEventID string) bool {
	return targetEventID != "" && parentOf(event) == targetEventID
}

// IsMentioningPubkey checks if an event mentions a specific pubkey
func IsMentioningPubkey(event *nostr.Event, pubkey string) bool {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] == pubkey {
			return true
		}
	}
	return false
}

// ThreadRoot returns the root of event's thread, or the event itself when it is a root
func ThreadRoot(event *nostr.Event) string {
	info, err := ParseThreadInfo(event)
	if err != nil || info.RootID == "" {
		return event.ID
	}
	return info.RootID
}

func isThreadableKind(kind int) bool {
	return kind == 1 || kind == 30023
}
