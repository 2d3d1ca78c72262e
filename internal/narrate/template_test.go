package narrate

import (
	"strings"
	"testing"
)

func TestBuildTextBranchPriority(t *testing.T) {
	full := Context{
		Cam:        "cam-2",
		Tags:       []string{"goal celebration", "crowd"},
		TopObjects: []string{"person", "ball"},
		Speech:     "what a finish",
	}

	tests := []struct {
		name string
		ctx  Context
		want string
	}{
		{"tags win", full, "Over to camera 2, goal celebration and crowd."},
		{
			"objects next",
			Context{Cam: "cam-2", TopObjects: []string{"person", "ball"}, Speech: "what a finish"},
			"Over to camera 2 with person and ball in view.",
		},
		{
			"speech next",
			Context{Cam: "cam-2", Speech: "what a finish"},
			"On camera 2: what a finish.",
		},
		{
			"generic fallback",
			Context{Cam: "cam-2"},
			"Switching to camera 2.",
		},
		{
			"single tag",
			Context{Cam: "stage", Tags: []string{"wide shot"}},
			"Over to stage, wide shot.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildText(tc.ctx, 12); got != tc.want {
				t.Errorf("buildText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildTextDeterministic(t *testing.T) {
	c := Context{Cam: "cam-1", Tags: []string{"close up", "speaker"}}
	first := buildText(c, 12)
	for range 5 {
		if got := buildText(c, 12); got != first {
			t.Fatalf("buildText not deterministic: %q vs %q", got, first)
		}
	}
}

func TestBuildTextWordCap(t *testing.T) {
	c := Context{
		Cam:    "cam-1",
		Speech: "one two three four five six seven eight nine ten eleven twelve thirteen",
	}
	got := buildText(c, 6)
	if n := len(strings.Fields(got)); n > 6 {
		t.Errorf("buildText produced %d words: %q", n, got)
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("truncated text missing terminal period: %q", got)
	}
}

func TestSanitizeSpeech(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		flagged bool
	}{
		{"nice goal there", "nice goal there", false},
		{"mail me at bob@example.com now", "mail me at [redacted] now", true},
		{"call +1 555 123-4567 today", "call [redacted] today", true},
		{"that was Shit, honestly", "that was [redacted] honestly", true},
		{"", "", false},
	}
	for _, tc := range tests {
		got, flagged := sanitizeSpeech(tc.in)
		if got != tc.want || flagged != tc.flagged {
			t.Errorf("sanitizeSpeech(%q) = (%q, %v), want (%q, %v)",
				tc.in, got, flagged, tc.want, tc.flagged)
		}
	}
}
