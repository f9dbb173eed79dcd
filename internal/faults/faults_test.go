package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"untagged defaults to permanent", base, Permanent},
		{"nil is permanent", nil, Permanent},
		{"tagged transient", Tag(base, Transient), Transient},
		{"tagged quota", Tag(base, Quota), Quota},
		{"tag survives wrapping", fmt.Errorf("outer: %w", Tag(base, Unauthorized)), Unauthorized},
		{"tagf", Tagf(RateLimited, "owner %d", 7), RateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("ClassOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTag_PreservesUnderlying(t *testing.T) {
	base := errors.New("boom")
	tagged := Tag(base, Transient)

	if !errors.Is(tagged, base) {
		t.Fatal("tagged error does not wrap the original")
	}
}

func TestIsRetryable(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", Tag(base, Transient), true},
		{"quota", Tag(base, Quota), true},
		{"unauthorized", Tag(base, Unauthorized), true},
		{"permanent", Tag(base, Permanent), false},
		{"rate limited", Tag(base, RateLimited), false},
		{"untagged", base, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"transient wrapping cancellation", Tag(context.Canceled, Transient), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTripWorthy(t *testing.T) {
	base := errors.New("boom")

	if !IsTripWorthy(Tag(base, Transient)) {
		t.Error("transient faults must count against the breaker")
	}
	for _, class := range []Class{Permanent, RateLimited, Quota, Unauthorized} {
		if IsTripWorthy(Tag(base, class)) {
			t.Errorf("%v must not count against the breaker", class)
		}
	}
}

func TestNeedsRotation(t *testing.T) {
	base := errors.New("boom")

	if !NeedsRotation(Tag(base, Quota)) || !NeedsRotation(Tag(base, Unauthorized)) {
		t.Error("quota and auth faults must force rotation")
	}
	for _, class := range []Class{Permanent, Transient, RateLimited} {
		if NeedsRotation(Tag(base, class)) {
			t.Errorf("%v must not force rotation", class)
		}
	}
}
