package aggregates

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoInvoiceAmount is returned for invoices that do not encode an amount
var ErrNoInvoiceAmount = errors.New("invoice has no amount")

// bolt11 network prefixes, longest first so lnbcrt wins over lnbc
var bolt11Networks = []string{"bcrt", "tbs", "bc", "tb", "sb"}

// ParseInvoiceMsats decodes the amount in millisatoshis from a bolt11 invoice's
// human readable part. The signature and data part are not verified.
func ParseInvoiceMsats(invoice string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(invoice))
	s = strings.TrimPrefix(s, "lightning:")

	// The human readable part ends at the last '1' (bech32 separator)
	sep := strings.LastIndexByte(s, '1')
	if sep < 0 || !strings.HasPrefix(s, "ln") {
		return 0, fmt.Errorf("not a bolt11 invoice")
	}
	hrp := s[2:sep]

	network := ""
	for _, n := range bolt11Networks {
		if strings.HasPrefix(hrp, n) {
			network = n
			break
		}
	}
	if network == "" {
		return 0, fmt.Errorf("unknown bolt11 network in %q", hrp)
	}

	amount := hrp[len(network):]
	if amount == "" {
		return 0, ErrNoInvoiceAmount
	}

	multiplier := amount[len(amount)-1]
	digits := amount
	if multiplier < '0' || multiplier > '9' {
		digits = amount[:len(amount)-1]
	} else {
		multiplier = 0
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse invoice amount: %w", err)
	}

	// Convert to millisatoshis (1 BTC = 1e11 msat)
	switch multiplier {
	case 'm': // millibitcoin
		return n * 100_000_000, nil
	case 'u': // microbitcoin
		return n * 100_000, nil
	case 'n': // nanobitcoin
		return n * 100, nil
	case 'p': // picobitcoin
		return n / 10, nil
	case 0:
		return n * 100_000_000_000, nil
	default:
		return 0, fmt.Errorf("unknown amount multiplier %q", multiplier)
	}
}

// ParseInvoiceAmount extracts the amount in satoshis from a bolt11 invoice
func ParseInvoiceAmount(invoice string) (int64, error) {
	msats, err := ParseInvoiceMsats(invoice)
	if err != nil {
		return 0, err
	}
	return msats / 1000, nil
}
