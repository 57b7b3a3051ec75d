package vad

import (
	"testing"
	"time"
)

func tone(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[i*2] = byte(amplitude)
		buf[i*2+1] = byte(amplitude >> 8)
	}
	return buf
}

func TestProcessEmptyFrameIgnored(t *testing.T) {
	d := New(0.01, 50*time.Millisecond)
	ev, err := d.Process(nil)
	if err != nil || ev != nil {
		t.Fatalf("expected empty frame to be ignored, got ev=%v err=%v", ev, err)
	}
	if d.IsSpeaking() {
		t.Fatal("empty frame must not alter state")
	}
}

func TestProcessOddLengthRejected(t *testing.T) {
	d := New(0.01, 50*time.Millisecond)
	_, err := d.Process([]byte{1, 2, 3})
	if err != ErrOddLength {
		t.Fatalf("expected ErrOddLength, got %v", err)
	}
}

func TestProcessThresholdEqualIsBelow(t *testing.T) {
	// amplitude chosen so normalized rms equals the threshold exactly.
	d := New(0.5, 50*time.Millisecond)
	frame := tone(int16(0.5*32768), 10)
	ev, err := d.Process(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatalf("energy==threshold must be treated as below-threshold, got %v", ev)
	}
	if d.IsSpeaking() {
		t.Fatal("should not have entered speaking state")
	}
}

func TestSpeechStartedOnceAboveThreshold(t *testing.T) {
	d := New(0.1, 50*time.Millisecond)
	loud := tone(20000, 50)

	ev, err := d.Process(loud)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Type != SpeechStarted {
		t.Fatalf("expected speech_started, got %v", ev)
	}

	ev, err = d.Process(loud)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected no repeated speech_started, got %v", ev)
	}
}

func TestSpeechEndedAfterSilenceWindow(t *testing.T) {
	d := New(0.1, 20*time.Millisecond)
	loud := tone(20000, 50)
	quiet := tone(0, 50)

	if ev, _ := d.Process(loud); ev == nil || ev.Type != SpeechStarted {
		t.Fatalf("expected speech_started")
	}

	if ev, _ := d.Process(quiet); ev != nil {
		t.Fatalf("silence window should not have elapsed yet, got %v", ev)
	}

	time.Sleep(25 * time.Millisecond)

	ev, err := d.Process(quiet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil || ev.Type != SpeechEnded {
		t.Fatalf("expected speech_ended after silence window elapsed, got %v", ev)
	}
	if d.IsSpeaking() {
		t.Fatal("should no longer be speaking")
	}
}

func TestCloneResetsStateKeepsConfig(t *testing.T) {
	d := New(0.2, 30*time.Millisecond)
	loud := tone(20000, 20)
	if _, err := d.Process(loud); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsSpeaking() {
		t.Fatal("expected speaking state before clone")
	}

	clone := d.Clone()
	if clone.IsSpeaking() {
		t.Fatal("clone must not inherit speaking state")
	}
	if clone.Threshold() != d.Threshold() {
		t.Fatal("clone must keep configured threshold")
	}
}
