package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/agentmemory/types"
)

// TruncationMarker terminates a rendered context cut at the length limit.
const TruncationMarker = "\n[context truncated]"

// Render converts an assembled context into a single prompt block. Sections
// are emitted in a fixed priority order and only when non-empty; the result
// is cut at maxLen characters with an explicit truncation marker.
func Render(ac *types.AssembledContext, maxLen int) string {
	if ac == nil {
		return ""
	}

	var b strings.Builder

	if len(ac.RecentTurns) > 0 {
		b.WriteString("## Recent Conversation\n")
		for _, turn := range ac.RecentTurns {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	if ac.CurrentGoal != "" || len(ac.ActiveEntities) > 0 || len(ac.ActiveTopics) > 0 {
		b.WriteString("## Current Focus\n")
		if ac.CurrentGoal != "" {
			fmt.Fprintf(&b, "Goal: %s\n", ac.CurrentGoal)
		}
		if len(ac.ActiveEntities) > 0 {
			fmt.Fprintf(&b, "Entities: %s\n", strings.Join(ac.ActiveEntities, ", "))
		}
		if len(ac.ActiveTopics) > 0 {
			fmt.Fprintf(&b, "Topics: %s\n", strings.Join(ac.ActiveTopics, ", "))
		}
		b.WriteString("\n")
	}

	writeList(&b, "## Proactive Insights", ac.ProactiveInsights)

	if len(ac.RelevantFacts) > 0 {
		b.WriteString("## Relevant Facts\n")
		for _, f := range ac.RelevantFacts {
			fmt.Fprintf(&b, "- %s\n", f.Content)
		}
		b.WriteString("\n")
	}

	writeList(&b, "## User Preferences", ac.UserPreferences)
	writeList(&b, "## Knowledge Context", ac.GraphContext)
	writeList(&b, "## Related People", ac.RelatedPeople)
	writeList(&b, "## From Other Sessions", ac.CrossSessionContext)

	out := strings.TrimRight(b.String(), "\n")
	if maxLen > 0 && len(out) > maxLen {
		cut := maxLen - len(TruncationMarker)
		if cut < 0 {
			cut = 0
		}
		// Never split a multi-byte rune at the cut.
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + TruncationMarker
	}
	return out
}

func writeList(b *strings.Builder, header string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(header + "\n")
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens in a rendered context using the cl100k_base
// encoding. If the encoding cannot be initialized (offline first run), it
// falls back to the len/4 heuristic.
func EstimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}
