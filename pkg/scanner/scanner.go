// Package scanner runs content scanners over request text and
// aggregates the traits they detect. Scanners are pluggable: built-in
// pattern scanners, remote HTTP scanners and sandboxed WASM scanners
// all satisfy the same interface.
package scanner

import (
	"context"
	"errors"
)

// ErrScannerUnavailable marks a scanner that could not run at all.
// The pipeline degrades gracefully: the scanner contributes zero
// traits and the request proceeds.
var ErrScannerUnavailable = errors.New("scanner: unavailable")

// Result is the outcome of one scanner over one message.
type Result struct {
	// Traits are the detected trait tags, e.g. PII_EMAIL.
	Traits []string

	// MaskedValues maps a trait to the scanner's redacted rendition of
	// the content, used when a REDACT policy matches the trait.
	MaskedValues map[string]string
}

// Scanner detects traits in a message. Implementations must be safe
// for concurrent use; the pipeline fans out across scanners.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, text string) (Result, error)
}
