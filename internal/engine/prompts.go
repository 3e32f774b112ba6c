package engine

import (
	"fmt"
	"strings"

	"github.com/marrec/inkwell/internal/manuscript"
)

const issueFormatInstructions = `Report each problem as a block in exactly this format, blocks separated by a line containing only "---":

ISSUE: <one-line summary>
LOCATION: <scene name, or "multiple scenes" / "throughout chapter" if it spans scenes>
SEVERITY: <minor | moderate | major>
DETAIL: <explanation, may span lines>
QUOTE: <short verbatim quote from the text, if one pinpoints the problem>
ANCHORS: <comma-separated paragraph markers like S1P3, if applicable>
SUGGESTION: <one concrete fix; repeat the line for alternatives>

If there are no problems, reply with exactly: NO ISSUES FOUND`

const timelineSystem = `You are a continuity editor for fiction. You check the internal timeline of a chapter: order of events, elapsed time, time-of-day references, character ages, and travel durations. Flag only genuine contradictions or confusing jumps, not stylistic choices.`

const consistencySystem = `You are a continuity editor for fiction. You check a chapter for internal consistency: character names and traits, objects appearing and disappearing, settings changing without transition, and contradicted facts. Flag only genuine contradictions.`

const styleSystem = `You are a line editor for fiction. You check a chapter for style problems: repeated words and phrases, filter words, unintentional tense or POV slips, and sentences that fight the chapter's established register. Flag patterns, not single occurrences, unless one is severe.`

const readerSnapshotSystem = `You are simulating an attentive first-time reader partway through a novel. Given one chapter, report what this reader now believes, expects, and feels. Reply with a single JSON object, no prose around it, with keys: "knows" (array of strings), "expects" (array of strings), "confused_by" (array of strings), "emotional_state" (string), "engagement" (one of "gripped", "interested", "drifting", "bored").`

// chapterPrompt renders a chapter with scene headers and paragraph anchors
// the model can cite back (S2P4 = scene 2, paragraph 4).
func chapterPrompt(ch manuscript.Chapter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CHAPTER: %s\n", ch.Name)
	for si, sc := range ch.Scenes {
		fmt.Fprintf(&b, "\nSCENE: %s\n", sc.Name)
		paras := strings.Split(sc.Content, "\n\n")
		pi := 0
		for _, p := range paras {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			pi++
			fmt.Fprintf(&b, "[S%dP%d] %s\n", si+1, pi, p)
		}
	}
	return b.String()
}

func issuePrompt(ch manuscript.Chapter) string {
	return chapterPrompt(ch) + "\n\n" + issueFormatInstructions
}

const bibleSystem = `You are maintaining a story bible for a novel in progress. Reply with a single JSON object, no prose around it, with keys: "characters" (array of {"name", "description", "status"}), "locations" (array of {"name", "description"}), "facts" (array of strings), "timeline" (array of strings in story order).`

const threadsSystem = `You are tracking narrative threads across a novel in progress. Reply with a single JSON object, no prose around it, with key "threads": an array of {"name", "status" (one of "open", "developing", "resolved", "dropped"), "first_seen" (chapter name), "last_seen" (chapter name), "note"}.`

const promisePayoffSystem = `You audit narrative promises and payoffs: setups, foreshadowing, and Chekhov's guns, and whether each is paid off. Reply with a single JSON object, no prose around it, with key "promises": an array of {"promise", "made_in" (chapter name), "paid_off" (boolean), "paid_off_in" (chapter name or ""), "note"}.`

const voiceDriftSystem = `You check a novel for narrative voice drift between chapters: register shifts, vocabulary changes, and POV discipline. Reply with a single JSON object, no prose around it, with keys: "baseline" (string describing the dominant voice) and "drifts" (array of {"chapter", "description", "severity" (one of "minor", "moderate", "major")}).`

const readerSimSystem = `You are simulating an attentive first-time reader finishing the manuscript so far. Reply with a single JSON object, no prose around it, with keys: "summary" (string, what the reader thinks happened), "open_questions" (array of strings), "predictions" (array of strings), "flat_spots" (array of {"chapter", "reason"}), "overall_engagement" (one of "gripped", "interested", "drifting", "bored").`

func bookBiblePrompt(bookText string, existing string) string {
	if existing == "" {
		return "Build the story bible from this manuscript.\n\n" + bookText
	}
	return "Update this story bible against the current manuscript. Keep entries that still hold, revise the rest.\n\nCURRENT BIBLE:\n" + existing + "\n\nMANUSCRIPT:\n" + bookText
}
