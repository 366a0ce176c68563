package aggregates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	internalnostr "github.com/sandwichfarm/zapline/internal/nostr"
	"github.com/sandwichfarm/zapline/internal/ops"
)

// Zap kinds (NIP-57)
const (
	KindZapRequest = 9734
	KindZapReceipt = 9735
)

// ErrNoZapAmount means no amount could be derived from a receipt
var ErrNoZapAmount = errors.New("zap receipt carries no parseable amount")

// ZapState aggregates the receipts of one target
type ZapState struct {
	TargetID  string
	Count     int
	TotalSats int64
	// Unparsed receipts are counted but contribute nothing to TotalSats
	Unparsed int
}

// ZapProcessor reads zap (kind 9735) receipts
type ZapProcessor struct {
	gateway  *internalnostr.Gateway
	deadline time.Duration
	logger   *ops.Logger
}

// NewZapProcessor creates a new zap processor
func NewZapProcessor(gw *internalnostr.Gateway, deadline time.Duration, logger *ops.Logger) *ZapProcessor {
	if deadline <= 0 {
		deadline = internalnostr.DeadlineAggregate
	}
	if logger == nil {
		logger = ops.Default()
	}
	return &ZapProcessor{
		gateway:  gw,
		deadline: deadline,
		logger:   logger.WithComponent("zaps"),
	}
}

// ZapCacheKey is the cache key of a target's receipts
func ZapCacheKey(t Target) string {
	return "zaps:" + t.Key()
}

// ReceiptFilter selects receipts for target created at or after since (0 for all)
func ReceiptFilter(t Target, since nostr.Timestamp) nostr.Filter {
	f := nostr.Filter{
		Kinds: []int{KindZapReceipt},
		Tags:  t.referenceFilterTags(),
	}
	if since > 0 {
		f.Since = &since
	}
	return f
}

// GetZapState counts target's receipts and sums their amounts
func (zp *ZapProcessor) GetZapState(ctx context.Context, target Target) ZapState {
	receipts := zp.gateway.QueryCached(ctx, ZapCacheKey(target), nostr.Filters{ReceiptFilter(target, 0)}, zp.deadline)

	state := ZapState{TargetID: target.ID}
	for _, receipt := range receipts {
		if receipt.Kind != KindZapReceipt || !target.referencedBy(receipt) {
			continue
		}
		state.Count++

		sats, err := ExtractZapAmount(receipt)
		if err != nil {
			state.Unparsed++
			zp.logger.Warn("zap receipt without amount", "receipt", receipt.ID, "error", err)
			continue
		}
		state.TotalSats += sats
	}

	zp.logger.LogAggregateUpdate(target.ID, "zaps", state.Count)
	return state
}

// ExtractZapAmount derives a receipt's amount in sats. Sources in order: the
// receipt's amount tag (msats), its bolt11 invoice, then the amount tag of the
// embedded zap request.
func ExtractZapAmount(receipt *nostr.Event) (int64, error) {
	if msats, ok := amountTag(receipt.Tags); ok {
		return msats / 1000, nil
	}

	if invoice := tagValue(receipt.Tags, "bolt11"); invoice != "" {
		if sats, err := ParseInvoiceAmount(invoice); err == nil {
			return sats, nil
		}
	}

	if desc := tagValue(receipt.Tags, "description"); desc != "" {
		var request struct {
			Tags nostr.Tags `json:"tags"`
		}
		if err := json.Unmarshal([]byte(desc), &request); err == nil {
			if msats, ok := amountTag(request.Tags); ok {
				return msats / 1000, nil
			}
		}
	}

	return 0, ErrNoZapAmount
}

// ReceiptMatchesInvoice reports whether receipt settles invoice
func ReceiptMatchesInvoice(receipt *nostr.Event, invoice string) bool {
	got := tagValue(receipt.Tags, "bolt11")
	return got != "" && strings.EqualFold(got, invoice)
}

func amountTag(tags nostr.Tags) (int64, bool) {
	v := tagValue(tags, "amount")
	if v == "" {
		return 0, false
	}
	msats, err := strconv.ParseInt(v, 10, 64)
	if err != nil || msats <= 0 {
		return 0, false
	}
	return msats, true
}

func tagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// FormatSats formats satoshis for display
func FormatSats(sats int64) string {
	if sats == 0 {
		return "0 sats"
	}

	if sats < 1000 {
		return fmt.Sprintf("%d sats", sats)
	}

	if sats < 1000000 {
		return fmt.Sprintf("%.1fK sats", float64(sats)/1000)
	}

	return fmt.Sprintf("%.2fM sats", float64(sats)/1000000)
}
