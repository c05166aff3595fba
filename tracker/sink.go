package tracker

import (
	"context"
	"errors"
	"time"
)

// Record is a fully enriched event as delivered to a sink.
type Record struct {
	Name       string
	DistinctID string
	InsertID   string
	Time       time.Time
	Properties Properties
}

// ProfileUpdate mutates user-profile properties on the sink. Set overwrites;
// Add increments.
type ProfileUpdate struct {
	DistinctID string
	Time       time.Time
	Set        Properties
	Add        map[string]float64
}

// Sink is the analytics backend. Implementations must not block the caller
// for network I/O; buffering and delivery are their concern.
type Sink interface {
	Name() string
	Track(ctx context.Context, rec Record) error
	Engage(ctx context.Context, up ProfileUpdate) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// NopSink accepts and discards everything.
type NopSink struct{}

func (NopSink) Name() string                                { return "nop" }
func (NopSink) Track(context.Context, Record) error         { return nil }
func (NopSink) Engage(context.Context, ProfileUpdate) error { return nil }
func (NopSink) Flush(context.Context) error                 { return nil }
func (NopSink) Close(context.Context) error                 { return nil }

// MultiSink fans every call out to all sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Track(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Track(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Engage(ctx context.Context, up ProfileUpdate) error {
	var errs []error
	for _, s := range m {
		if err := s.Engage(ctx, up); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
