package common

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatUSDT(t *testing.T) {
	got := FormatUSDT(decimal.RequireFromString("12.345678"))
	if got != "12.3457 USDT" {
		t.Errorf("unexpected amount %q", got)
	}
	if got := FormatUSDT(decimal.Zero); got != "0.0000 USDT" {
		t.Errorf("unexpected zero amount %q", got)
	}
}

func TestFormatTime(t *testing.T) {
	if got := FormatTime(time.Time{}); got != "-" {
		t.Errorf("zero time should render as '-', got %q", got)
	}
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)
	if got := FormatTime(at); got != "2024-03-09 14:05:00" {
		t.Errorf("unexpected time %q", got)
	}
}

func TestShortHash(t *testing.T) {
	hash := "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	if got := ShortHash(hash); got != "0x5c504ed4…b22060" {
		t.Errorf("unexpected short hash %q", got)
	}
	if got := ShortHash("0xabc"); got != "0xabc" {
		t.Errorf("short values should pass through, got %q", got)
	}
}
