package agent

import (
	"fmt"
	"strings"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
)

// LoopGuard remembers recent actions and notices when the model repeats
// itself, either one action in a row or an A->B pattern. It only produces
// notes for the model; it never blocks execution.
type LoopGuard struct {
	lastActionKey string
	repeatCount   int
	loopThreshold int

	recentKeys    []string
	maxRecent     int
	patternLen    int
	patternCounts map[string]int

	triggered int
}

func NewLoopGuard(loopThreshold int) *LoopGuard {
	if loopThreshold <= 1 {
		loopThreshold = 2
	}
	return &LoopGuard{
		loopThreshold: loopThreshold,
		maxRecent:     10,
		patternLen:    2,
		patternCounts: make(map[string]int),
	}
}

func (g *LoopGuard) makeKey(url string, action llm.Action) string {
	// kind + URL + target is enough to tell the same control on the same page.
	switch action.Kind {
	case llm.ActionScroll:
		return fmt.Sprintf("%s|%s|%s", action.Kind, url, action.ScrollDirection())
	case llm.ActionNavigate:
		return fmt.Sprintf("%s|%s|%s", action.Kind, url, action.URL)
	case llm.ActionTranslate:
		return fmt.Sprintf("%s|%s|%s", action.Kind, url, action.Language)
	}
	return fmt.Sprintf("%s|%s|%d", action.Kind, url, action.ElementID)
}

// Record adds an executed action and returns a note for the model when the
// action closes a loop, or "" otherwise.
func (g *LoopGuard) Record(url string, action llm.Action) string {
	key := g.makeKey(url, action)
	if key == g.lastActionKey {
		g.repeatCount++
	} else {
		g.lastActionKey = key
		g.repeatCount = 1
	}

	g.recentKeys = append(g.recentKeys, key)
	if len(g.recentKeys) > g.maxRecent {
		g.recentKeys = g.recentKeys[len(g.recentKeys)-g.maxRecent:]
	}

	var pattern string
	var patternCount int
	if len(g.recentKeys) >= g.patternLen {
		seq := g.recentKeys[len(g.recentKeys)-g.patternLen:]
		// A->A is the single-action case, counted above.
		if seq[0] != seq[1] {
			pattern = strings.Join(seq, "->")
			g.patternCounts[pattern]++
			patternCount = g.patternCounts[pattern]
		}
	}

	var note string
	switch {
	case g.repeatCount >= g.loopThreshold:
		note = fmt.Sprintf(
			"SYSTEM NOTE: The same action (%s) has already been executed %d times in a row. "+
				"Do NOT repeat it again. Choose a different action or finish with ANSWER if the goal is already achieved.",
			key, g.repeatCount,
		)
	case patternCount >= 2:
		note = fmt.Sprintf(
			"SYSTEM NOTE: The sequence of %d actions (%s) has already occurred before. "+
				"Do NOT repeat this pattern. Try a different action or finish with ANSWER.",
			g.patternLen, pattern,
		)
	}
	if note != "" {
		g.triggered++
	}
	return note
}

// Triggered reports how many notes the guard has produced.
func (g *LoopGuard) Triggered() int {
	return g.triggered
}
