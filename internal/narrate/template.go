package narrate

import (
	"fmt"
	"strings"

	"github.com/shotcaller-ai/shotcaller/pkg/types"
)

// Context is the material a narration is built from: the feature snapshot
// of the camera just switched to.
type Context struct {
	Cam        types.CameraID
	Tags       []string
	TopObjects []string

	// Speech is the camera's recent transcript, already safety-filtered.
	Speech string
}

// buildText renders the deterministic narration for c. Branch priority is
// fixed: scene tags, then detected objects, then recent speech, then a
// generic fallback. The result never exceeds maxWords words.
func buildText(c Context, maxWords int) string {
	cam := displayName(c.Cam)

	var text string
	switch {
	case len(c.Tags) > 0:
		text = fmt.Sprintf("Over to %s, %s.", cam, joinPair(c.Tags))
	case len(c.TopObjects) > 0:
		text = fmt.Sprintf("Over to %s with %s in view.", cam, joinPair(c.TopObjects))
	case c.Speech != "":
		text = fmt.Sprintf("On %s: %s.", cam, strings.TrimRight(c.Speech, ".!? "))
	default:
		text = fmt.Sprintf("Switching to %s.", cam)
	}
	return capWords(text, maxWords)
}

// joinPair formats the first one or two items as "a" or "a and b".
func joinPair(items []string) string {
	if len(items) == 1 {
		return items[0]
	}
	return items[0] + " and " + items[1]
}

// displayName turns "cam-3" into "camera 3"; other identifiers pass
// through unchanged.
func displayName(cam types.CameraID) string {
	if suffix, ok := strings.CutPrefix(string(cam), "cam-"); ok {
		return "camera " + suffix
	}
	return string(cam)
}

// capWords truncates text to at most n words, preserving terminal
// punctuation.
func capWords(text string, n int) string {
	if n <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	out := strings.Join(words[:n], " ")
	if !strings.HasSuffix(out, ".") {
		out += "."
	}
	return out
}
