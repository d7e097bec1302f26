// Package testutil holds shared test helpers.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// NewVCRRecorder opens a cassette recorder for upstream wire-client tests.
// Tests that depend on a cassette call RequireCassette first so a missing
// recording skips instead of failing.
//
// Set VCR_MODE=record with real credentials in the environment to re-record.
func NewVCRRecorder(t *testing.T, cassetteName string) (*recorder.Recorder, func()) {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	cassettePath := filepath.Join("testdata", "fixtures", cassetteName)

	r, err := recorder.NewAsMode(cassettePath, mode, nil)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	// Bodies carry prompts that change between recordings; method and URL
	// are enough to pick the right interaction.
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method && r.URL.String() == i.URL
	})

	cleanup := func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	}

	return r, cleanup
}

// RequireCassette skips the test when the named cassette has not been
// recorded and VCR_MODE is not set to record.
func RequireCassette(t *testing.T, cassetteName string) {
	t.Helper()

	if os.Getenv("VCR_MODE") == "record" {
		return
	}
	path := filepath.Join("testdata", "fixtures", cassetteName+".yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("cassette %s not recorded; set VCR_MODE=record to create it", cassetteName)
	}
}

// VCRHTTPClient returns an HTTP client that routes through the recorder.
func VCRHTTPClient(r *recorder.Recorder) *http.Client {
	return &http.Client{
		Transport: r,
	}
}
