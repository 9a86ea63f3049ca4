package utterance

import "testing"

func TestGenerator_Next(t *testing.T) {
	g := New()
	if id := g.Next("s1"); id != "s1-utt-1" {
		t.Errorf("expected s1-utt-1, got %s", id)
	}
	if id := g.Next("s1"); id != "s1-utt-2" {
		t.Errorf("expected s1-utt-2, got %s", id)
	}
}
