package webhook

import (
	"fmt"
	"strings"
)

// composeMove builds the notification body for a list transition. links, when
// present, are rendered as a final-links block (used for moves into the
// complete list).
func composeMove(title string, before, after string, links []string) string {
	if title == "" {
		title = "Episode"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 %s moved from %s → %s.", title, before, after)
	if len(links) > 0 {
		b.WriteString("\n📦 Final files/links:\n")
		b.WriteString(strings.Join(links, "\n"))
	}
	return b.String()
}
