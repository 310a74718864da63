package agents

import (
	"regexp"
	"strings"
)

// Turn transitions the tutor can signal.
const (
	TransitionAdvance = "advance"
	TransitionStay    = "stay"
)

// TurnOutcome is the tutor's out-of-band state signal for one turn.
type TurnOutcome struct {
	// Complete means the whole subconcept is mastered.
	Complete bool
	// Transition is "advance" or "stay" for the current teaching chunk.
	Transition string
}

// Legacy inline markers the model may embed in its prose instead of (or in
// addition to) calling signal_turn_outcome. Matched case-insensitively.
var markerPattern = regexp.MustCompile(`(?i)\[\s*(COMPLETE|ADVANCE|NEXT|STAY|CONTINUE)\s*\]`)

var trailingSpaces = regexp.MustCompile(`[ \t]{2,}`)

// ExtractMarkers strips inline state markers from tutor prose and returns
// the cleaned text plus the outcome they encode. With no markers present
// the outcome defaults to staying on the current chunk, not complete.
func ExtractMarkers(text string) (string, TurnOutcome) {
	out := TurnOutcome{Transition: TransitionStay}

	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		switch strings.ToUpper(strings.TrimSpace(m[1])) {
		case "COMPLETE":
			out.Complete = true
			out.Transition = TransitionAdvance
		case "ADVANCE", "NEXT":
			out.Transition = TransitionAdvance
		case "STAY", "CONTINUE":
			// Explicit stay never downgrades an earlier advance signal.
			if !out.Complete && out.Transition != TransitionAdvance {
				out.Transition = TransitionStay
			}
		}
	}

	clean := markerPattern.ReplaceAllString(text, "")
	clean = trailingSpaces.ReplaceAllString(clean, " ")
	lines := strings.Split(clean, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), out
}
