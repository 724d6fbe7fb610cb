package archive

import (
	"fmt"
	"strings"
	"time"
)

// FormatPGN renders a GameRecord as a standard portable-game-notation text
// block: the seven-tag roster plus any extras, then the move list with clock
// annotations per half-move where available (§4.7).
func FormatPGN(rec GameRecord) string {
	var b strings.Builder

	tag := func(name, value string) {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", name, value)
	}
	tag("Event", orDash(rec.Event))
	tag("Site", orDash(rec.Site))
	tag("Date", rec.Date.UTC().Format("2006.01.02"))
	tag("White", orDash(rec.White))
	tag("Black", orDash(rec.Black))
	tag("Result", orDash(rec.Result))
	tag("TimeControl", orDash(rec.TimeControl))
	tag("Variant", orDash(rec.Variant))
	if rec.Rated {
		tag("Rated", "true")
	} else {
		tag("Rated", "false")
	}
	b.WriteString("\n")

	b.WriteString(formatMoveText(rec.Moves))
	b.WriteString(" ")
	b.WriteString(orDash(rec.Result))
	b.WriteString("\n\n")

	return b.String()
}

func formatMoveText(moves []MoveRecord) string {
	var b strings.Builder
	for i, mv := range moves {
		if i%2 == 0 {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%d.", i/2+1)
		}
		b.WriteString(" ")
		notation := mv.SAN
		if notation == "" {
			notation = mv.UCI
		}
		b.WriteString(notation)
		if mv.ClockLeft > 0 {
			fmt.Fprintf(&b, " {[%%clk %s]}", formatClock(mv.ClockLeft))
		}
	}
	return strings.TrimSpace(b.String())
}

func formatClock(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}

func orDash(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
