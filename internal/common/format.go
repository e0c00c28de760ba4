package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultWidth = 80
	WideWidth    = 100

	TimeLayout = "2006-01-02 15:04:05"

	// amountPlaces is the precision reports show; stored values keep full precision.
	amountPlaces = 4
)

func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a report title framed by '=' rules.
func PrintHeader(title string, width int) {
	rule := strings.Repeat("=", width)
	fmt.Printf("\n%s\n%s\n%s\n", rule, title, rule)
}

func PrintFooter(message string, width int) {
	rule := strings.Repeat("=", width)
	fmt.Printf("\n%s\n%s\n%s\n\n", rule, message, rule)
}

func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix is the tree glyph for a list row.
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix continues the tree under a row.
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// FormatUSDT renders a token amount at report precision with its unit.
func FormatUSDT(amount decimal.Decimal) string {
	return amount.StringFixed(amountPlaces) + " USDT"
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(TimeLayout)
}

// ShortHash abbreviates a transaction hash or address for table columns.
func ShortHash(hash string) string {
	if len(hash) <= 18 {
		return hash
	}
	return hash[:10] + "…" + hash[len(hash)-6:]
}
