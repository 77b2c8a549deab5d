// ABOUTME: Error sentinels shared across the provider gateway and clients.
// ABOUTME: Callers branch with errors.Is; wrapped detail carries the specifics.

package provider

import "errors"

// ErrUnavailable indicates every candidate provider was exhausted for a
// request. The scheduler treats this as a single failed turn, not a fatal
// condition.
var ErrUnavailable = errors.New("all providers unavailable")

// ErrTimeout indicates a single provider attempt exceeded its deadline.
var ErrTimeout = errors.New("provider timeout")

// ErrRateLimited indicates a provider rejected an attempt with a rate limit.
var ErrRateLimited = errors.New("provider rate limited")

// ErrUnknownProvider indicates a provider id with no registered client.
var ErrUnknownProvider = errors.New("unknown provider")
