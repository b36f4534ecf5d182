// Package reputation defines the URL reputation seam used by the triage
// pipeline and ships the adapters that implement it.
package reputation

import (
	"context"
)

// Result holds the verdict counts a reputation service reports for one URL.
type Result struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
}

// Normalize clamps negative counts to zero.
func (r Result) Normalize() Result {
	if r.Malicious < 0 {
		r.Malicious = 0
	}
	if r.Suspicious < 0 {
		r.Suspicious = 0
	}
	return r
}

// Service looks up the reputation of a URL. Implementations must be safe for
// concurrent use; failures are returned as errors wrapping ErrLookup.
type Service interface {
	Lookup(ctx context.Context, url string) (Result, error)
}

// Noop reports every URL as clean. It is the default service so the
// pipeline runs fully offline.
type Noop struct{}

// NewNoop creates a Noop service
func NewNoop() Noop {
	return Noop{}
}

// Lookup always returns a zero Result.
func (Noop) Lookup(context.Context, string) (Result, error) {
	return Result{}, nil
}

// Func adapts a plain function to the Service interface.
type Func func(ctx context.Context, url string) (Result, error)

// Lookup calls f.
func (f Func) Lookup(ctx context.Context, url string) (Result, error) {
	return f(ctx, url)
}
