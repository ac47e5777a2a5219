package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"
)

const timeLayout = "2006.01.02 15:04:05"

// FormatCooldown announces that a symbol is paused after provider throttling.
func FormatCooldown(symbol, kind string, until time.Time) string {
	return fmt.Sprintf("⏸ <b>%s</b> paused: %s\nnext attempt after %s UTC",
		html.EscapeString(symbol), html.EscapeString(kind), until.UTC().Format(timeLayout))
}

// FormatFatal announces that the process is stopping.
func FormatFatal(err error) string {
	return fmt.Sprintf("🛑 <b>stooq sync stopped</b>\n%s", html.EscapeString(err.Error()))
}

// StatusLine is one row of a status report.
type StatusLine struct {
	Symbol   string
	Period   string
	Outcome  string
	LastBar  time.Time
	Cooldown time.Time
}

// FormatStatus renders the per-symbol status table sent in reply to /status.
func FormatStatus(lines []StatusLine, next time.Time) string {
	var b strings.Builder
	b.WriteString("📈 <b>stooq sync status</b>\n\n")
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("%s %s: %s", html.EscapeString(l.Symbol), l.Period, l.Outcome))
		if !l.LastBar.IsZero() {
			b.WriteString(fmt.Sprintf(", last bar %s", l.LastBar.UTC().Format("2006.01.02")))
		}
		if !l.Cooldown.IsZero() {
			b.WriteString(fmt.Sprintf(", paused until %s", l.Cooldown.UTC().Format(timeLayout)))
		}
		b.WriteString("\n")
	}
	if !next.IsZero() {
		b.WriteString(fmt.Sprintf("\nnext update %s UTC", next.UTC().Format(timeLayout)))
	}
	return b.String()
}
