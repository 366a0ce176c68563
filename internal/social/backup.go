package social

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
)

// BackupKinds are the replaceable events that make up an identity's social facts
var BackupKinds = []int{internalnostr.KindProfile, internalnostr.KindContacts, internalnostr.KindRelayList}

// ErrNothingToBackup is returned when no relay has any social fact for the identity
var ErrNothingToBackup = errors.New("no profile, follow list or relay list found")

// RestoreReport describes what a restore republished
type RestoreReport struct {
	Published []*nostr.Event
	// Skipped events are older than what the relays already have
	Skipped []*nostr.Event
	Reports map[string]internalnostr.PublishReport
}

// Backup writes the latest profile, follow list and relay list of identity
// to w, one signed event per line. It returns the number of events written.
func (g *Graph) Backup(ctx context.Context, identity string, w io.Writer) (int, error) {
	start := time.Now()
	g.logger.Info("starting backup", "identity", identity)

	latest := make([]*nostr.Event, len(BackupKinds))
	var eg errgroup.Group
	for i, kind := range BackupKinds {
		eg.Go(func() error {
			latest[i] = g.gateway.Latest(ctx, identity, kind, g.deadline)
			return nil
		})
	}
	_ = eg.Wait()

	written := 0
	for _, ev := range latest {
		if ev == nil {
			continue
		}
		line, err := json.Marshal(ev)
		if err != nil {
			return written, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return written, fmt.Errorf("failed to write backup: %w", err)
		}
		written++
	}
	if written == 0 {
		return 0, ErrNothingToBackup
	}

	g.logger.Info("backup completed",
		"identity", identity,
		"events", written,
		"duration_ms", time.Since(start).Milliseconds())
	return written, nil
}

// Restore republishes the events of a backup verbatim to urls. Every line must
// carry a valid signature and one of BackupKinds. An event is skipped when the
// relays already hold a newer or equal version.
func (g *Graph) Restore(ctx context.Context, r io.Reader, urls []string) (*RestoreReport, error) {
	start := time.Now()

	events, err := readBackup(r)
	if err != nil {
		return nil, err
	}
	g.logger.Info("starting restore", "events", len(events))

	report := &RestoreReport{Reports: make(map[string]internalnostr.PublishReport)}
	for _, ev := range events {
		current := g.gateway.LatestFrom(ctx, urls, ev.PubKey, ev.Kind, g.deadline)
		if current != nil && current.CreatedAt >= ev.CreatedAt {
			report.Skipped = append(report.Skipped, ev)
			continue
		}

		pr := g.gateway.Publish(ctx, ev, urls)
		report.Reports[ev.ID] = pr
		if pr.OK() {
			report.Published = append(report.Published, ev)
		} else {
			g.logger.Warn("restored event not accepted", "id", ev.ID, "kind", ev.Kind, "error", pr.Err())
		}
		if ev.Kind == internalnostr.KindContacts {
			g.gateway.Invalidate(ctx, followsKey(ev.PubKey))
		}
	}

	g.logger.Info("restore completed",
		"published", len(report.Published),
		"skipped", len(report.Skipped),
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}

func readBackup(r io.Reader) ([]*nostr.Event, error) {
	allowed := make(map[int]bool, len(BackupKinds))
	for _, k := range BackupKinds {
		allowed[k] = true
	}

	var events []*nostr.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev := &nostr.Event{}
		if err := json.Unmarshal(line, ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if !allowed[ev.Kind] {
			return nil, fmt.Errorf("line %d: kind %d is not part of a backup", n, ev.Kind)
		}
		if ok, err := ev.CheckSignature(); err != nil {
			return nil, fmt.Errorf("line %d: invalid signature: %w", n, err)
		} else if !ok {
			return nil, fmt.Errorf("line %d: invalid signature", n)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	// profile first, relay list last
	sort.SliceStable(events, func(i, j int) bool { return events[i].Kind < events[j].Kind })
	return events, nil
}
