// Package trackertest provides an in-memory Sink for tests.
package trackertest

import (
	"context"
	"errors"
	"sync"

	"clicktrail/api/tracker"
)

// Recorder is a Sink that keeps everything it receives.
type Recorder struct {
	mu       sync.Mutex
	records  []tracker.Record
	profiles []tracker.ProfileUpdate
	calls    int

	// Fail makes every Track and Engage call return an error.
	Fail bool
	// Panic makes every Track call panic.
	Panic bool
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Track(_ context.Context, rec tracker.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.Panic {
		panic("sdk exploded")
	}
	if r.Fail {
		return errors.New("sink unavailable")
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *Recorder) Engage(_ context.Context, up tracker.ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.Fail {
		return errors.New("sink unavailable")
	}
	r.profiles = append(r.profiles, up)
	return nil
}

func (r *Recorder) Flush(context.Context) error { return nil }
func (r *Recorder) Close(context.Context) error { return nil }

// Calls counts every Track and Engage invocation, successful or not.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Records returns a copy of the tracked events.
func (r *Recorder) Records() []tracker.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracker.Record(nil), r.records...)
}

// Named returns the tracked events with the given name.
func (r *Recorder) Named(name string) []tracker.Record {
	var out []tracker.Record
	for _, rec := range r.Records() {
		if rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// Profiles returns a copy of the profile updates.
func (r *Recorder) Profiles() []tracker.ProfileUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracker.ProfileUpdate(nil), r.profiles...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.records, r.profiles, r.calls = nil, nil, 0
	r.mu.Unlock()
}
