package withdraw

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/txnbuild"
)

// ledgerDecimals is the precision of Stellar amounts (one stroop is 10^-7).
const ledgerDecimals = 7

const maxTextMemo = 28

// NormalizeAmount parses a positive decimal with at most seven fractional digits and
// returns its canonical form ("10.50" -> "10.5").
func NormalizeAmount(s string) (string, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("amount %q is not a decimal: %w", s, err)
	}
	if !d.IsPositive() {
		return "", fmt.Errorf("amount %q must be positive", s)
	}
	if !d.Equal(d.Truncate(ledgerDecimals)) {
		return "", fmt.Errorf("amount %q has more than %d decimal places", s, ledgerDecimals)
	}
	return d.String(), nil
}

// memoFor builds the ledger memo for a SEP-24 withdraw_memo / withdraw_memo_type pair.
// An empty type means text.
func memoFor(memo, memoType string) (txnbuild.Memo, error) {
	switch memoType {
	case "", "text":
		if len(memo) > maxTextMemo {
			return nil, fmt.Errorf("text memo is %d bytes, limit is %d", len(memo), maxTextMemo)
		}
		return txnbuild.MemoText(memo), nil
	case "id":
		id, err := strconv.ParseUint(memo, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("id memo %q: %w", memo, err)
		}
		return txnbuild.MemoID(id), nil
	case "hash":
		raw, err := decodeHashMemo(memo)
		if err != nil {
			return nil, err
		}
		var h txnbuild.MemoHash
		copy(h[:], raw)
		return h, nil
	default:
		return nil, fmt.Errorf("unsupported memo type %q", memoType)
	}
}

// decodeHashMemo accepts the base64 encoding SEP-24 specifies, and hex as a fallback.
func decodeHashMemo(memo string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(memo); err == nil && len(raw) == 32 {
		return raw, nil
	}
	if raw, err := hex.DecodeString(memo); err == nil && len(raw) == 32 {
		return raw, nil
	}
	return nil, fmt.Errorf("hash memo %q is not 32 bytes of base64 or hex", memo)
}
