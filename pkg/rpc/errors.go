package rpc

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions
var (
	// ErrRateLimited marks a provider response that indicates throttling.
	// The scanner backs off instead of shrinking its chunk size on these.
	ErrRateLimited = errors.New("rpc endpoint rate limited")

	// ErrNotFound marks a contract read that reverted with the oracle's
	// "no value for this id" reason. It is a valid terminal state for a
	// value lookup, never retried.
	ErrNotFound = errors.New("value not found on chain")

	// ErrNoEndpoints is returned when a chain descriptor carries no usable
	// RPC endpoints.
	ErrNoEndpoints = errors.New("no rpc endpoints available")
)

// rate-limit markers seen across public endpoints; matched case-insensitively
var rateLimitMarkers = []string{
	"429",
	"rate",
	"limit",
	"too many requests",
	"capacity exceeded",
}

// not-found markers for the oracle's latest-value read
var notFoundMarkers = []string{
	"notfound",
	"not found",
	"0xb0ce7591", // NotFound() custom error selector
}

// Classify maps a raw provider error into the structured kinds the rest of
// the codebase branches on. Provider-specific message sniffing lives here
// and nowhere else.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNotFound) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range notFoundMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s", ErrRateLimited, err.Error())
		}
	}
	return err
}

// IsRateLimited reports whether the error was classified as throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsNotFound reports whether the error was classified as the oracle's
// not-found revert.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
