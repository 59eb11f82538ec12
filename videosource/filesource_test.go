//go:build config

package videosource

import (
	"os"
	"testing"
)

func TestFileSource(t *testing.T) {
	filename := os.Getenv("ALPRD_TEST_VIDEO")
	if filename == "" {
		t.Skip("ALPRD_TEST_VIDEO not set")
	}
	f := NewSource("test1", filename)
	if !f.Initialize() {
		t.Fatalf("could not open %s\n", filename)
	}
	defer f.Cleanup()
	frames := 0
	for {
		done, frame, connection := f.ReadFrame()
		if done {
			break
		}
		if connection != 1 {
			t.Fatalf("connection = %d, expected 1\n", connection)
		}
		if frame.Sequence != uint64(frames+1) {
			t.Fatalf("sequence = %d, expected %d\n", frame.Sequence, frames+1)
		}
		frame.Cleanup()
		frames++
	}
	t.Logf("read %d frames\n", frames)
}
