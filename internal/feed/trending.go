package feed

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
)

// trendingSample bounds how many recent notes trending is computed over
const trendingSample = 500

// Trend is one counted tag value
type Trend struct {
	Value string
	Count int
	// LastSeen is the newest note carrying the value
	LastSeen time.Time
}

// HourBucket counts the sampled notes of one hour
type HourBucket struct {
	Start time.Time
	Count int
}

// Trends summarises recent activity
type Trends struct {
	Since    time.Time
	Notes    int
	Hashtags []Trend
	Mentions []Trend
	Hourly   []HourBucket
}

// Trending counts hashtags and mentioned pubkeys over the recent window. Each
// note counts a value once. top limits both lists; zero keeps everything.
func (s *Service) Trending(ctx context.Context, top int) *Trends {
	sinceTime := s.now().Add(-RecentWindow)
	since := nostr.Timestamp(sinceTime.Unix())

	events := s.gateway.Query(ctx, nostr.Filters{{
		Kinds: []int{internalnostr.KindNote},
		Since: &since,
		Limit: trendingSample,
	}}, s.feedDeadline)
	events = s.sane(events)

	hashtags := make(map[string]*Trend)
	mentions := make(map[string]*Trend)
	hours := make(map[int64]*HourBucket)
	notes := 0

	for _, ev := range events {
		if ev.CreatedAt < since {
			continue
		}
		notes++
		at := ev.CreatedAt.Time()

		seen := make(map[string]bool)
		for _, tag := range ev.Tags {
			if len(tag) < 2 || tag[1] == "" {
				continue
			}
			var counts map[string]*Trend
			value := tag[1]
			switch tag[0] {
			case "t":
				counts, value = hashtags, strings.ToLower(strings.TrimPrefix(value, "#"))
			case "p":
				if !internalnostr.IsHex64(value) {
					continue
				}
				counts = mentions
			default:
				continue
			}
			key := tag[0] + ":" + value
			if seen[key] {
				continue
			}
			seen[key] = true
			count(counts, value, at)
		}

		hour := at.UTC().Truncate(time.Hour)
		bucket, ok := hours[hour.Unix()]
		if !ok {
			bucket = &HourBucket{Start: hour}
			hours[hour.Unix()] = bucket
		}
		bucket.Count++
	}

	trends := &Trends{
		Since:    sinceTime,
		Notes:    notes,
		Hashtags: ranked(hashtags, top),
		Mentions: ranked(mentions, top),
		Hourly:   make([]HourBucket, 0, len(hours)),
	}
	for _, b := range hours {
		trends.Hourly = append(trends.Hourly, *b)
	}
	// Oldest hour first
	sort.Slice(trends.Hourly, func(i, j int) bool {
		return trends.Hourly[i].Start.Before(trends.Hourly[j].Start)
	})

	s.logger.Debug("trending computed", "notes", notes, "hashtags", len(hashtags), "mentions", len(mentions))
	return trends
}

func count(counts map[string]*Trend, value string, at time.Time) {
	t, ok := counts[value]
	if !ok {
		t = &Trend{Value: value}
		counts[value] = t
	}
	t.Count++
	if at.After(t.LastSeen) {
		t.LastSeen = at
	}
}

// ranked sorts by count, then most recently seen, then value
func ranked(counts map[string]*Trend, top int) []Trend {
	out := make([]Trend, 0, len(counts))
	for _, t := range counts {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Value < out[j].Value
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
