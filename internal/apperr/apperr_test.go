package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := New("AUDIO_REQUIRED", "no audio yet")

	if got := CodeOf(err, "FALLBACK"); got != "AUDIO_REQUIRED" {
		t.Errorf("CodeOf = %q, want AUDIO_REQUIRED", got)
	}
	if got := CodeOf(errors.New("plain"), "FALLBACK"); got != "FALLBACK" {
		t.Errorf("CodeOf plain error = %q, want FALLBACK", got)
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := New("UPLOAD_FAILED", "http 503")
	outer := fmt.Errorf("stage audio: %w", inner)

	if got := CodeOf(outer, "X"); got != "UPLOAD_FAILED" {
		t.Errorf("CodeOf wrapped = %q, want UPLOAD_FAILED", got)
	}
	if got := MessageOf(outer); got != "http 503" {
		t.Errorf("MessageOf wrapped = %q, want %q", got, "http 503")
	}
}

func TestIs_MatchesOnCode(t *testing.T) {
	a := New("TIMEOUT", "after 5s")
	b := New("TIMEOUT", "different message")

	if !errors.Is(a, b) {
		t.Error("expected errors with same code to match")
	}
	if errors.Is(a, New("OTHER", "after 5s")) {
		t.Error("expected errors with different codes not to match")
	}
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap("DOWNLOAD_FAILED", "fetch artifact", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
}
