package gate

import (
	"testing"

	"github.com/m3rciful/charmbot/sessions"
)

func TestClassifierMatch(t *testing.T) {
	c := NewClassifier([]string{"Foto", " quente ", ""})

	cases := []struct {
		text string
		want bool
	}{
		{"me manda uma FOTO", true},
		{"tá quente hoje", true},
		{"oi, tudo bem?", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := c.Match(tc.text); got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestClassifierNilAndEmpty(t *testing.T) {
	var nilC *Classifier
	if nilC.Match("foto") {
		t.Fatal("nil classifier must never match")
	}
	if NewClassifier(nil).Match("foto") {
		t.Fatal("empty classifier must never match")
	}
}

func TestClassifierMatchAnyScansUserTurns(t *testing.T) {
	c := NewClassifier([]string{"quero mais"})
	window := []sessions.Turn{
		{Role: "user", Text: "quero mais de você"},
		{Role: "assistant", Text: "calma..."},
	}

	if !c.MatchAny("mensagem neutra", window) {
		t.Fatal("recent user turn should match")
	}
	if c.MatchAny("mensagem neutra", []sessions.Turn{{Role: "assistant", Text: "quero mais"}}) {
		t.Fatal("assistant turns must not count")
	}
}
