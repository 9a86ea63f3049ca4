package main

import (
	"errors"
	"testing"

	"voice-support-client/internal/audio"
)

func TestCheckWAV(t *testing.T) {
	good := audio.SilentWAV(16000, 0)
	rate, err := checkWAV(good)
	if err != nil || rate != 16000 {
		t.Fatalf("checkWAV(silent) = %d, %v", rate, err)
	}

	bad := append([]byte(nil), good...)
	copy(bad[0:4], "RIFX")
	if _, err := checkWAV(bad); !errors.Is(err, errNotWAV) {
		t.Errorf("expected errNotWAV, got %v", err)
	}

	if _, err := checkWAV(good[:10]); err == nil {
		t.Error("expected error for truncated header")
	}
}
