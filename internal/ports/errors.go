package ports

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidResponse indicates that a model reply held no usable JSON
// analysis.
var ErrInvalidResponse = errors.New("invalid response")

// maxExcerptRunes bounds how much of an unusable reply is kept for logs.
const maxExcerptRunes = 120

// ReplyError describes a model reply that could not be turned into an
// analysis. It keeps the start of the reply so logs show what the model
// actually said.
type ReplyError struct {
	// Model is the "provider/model" spec that produced the reply.
	Model string
	// Excerpt is the beginning of the reply, at most maxExcerptRunes runes.
	Excerpt string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface for ReplyError.
func (e *ReplyError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("unusable reply from %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("unusable reply from %s: %v (reply starts %q)", e.Model, e.Err, e.Excerpt)
}

// Unwrap returns the underlying error.
func (e *ReplyError) Unwrap() error { return e.Err }

// NewReplyError wraps err with the model and a bounded excerpt of raw.
// A nil err becomes ErrInvalidResponse.
func NewReplyError(model, raw string, err error) *ReplyError {
	if err == nil {
		err = ErrInvalidResponse
	}
	return &ReplyError{Model: model, Excerpt: excerpt(raw), Err: err}
}

func excerpt(raw string) string {
	if utf8.RuneCountInString(raw) <= maxExcerptRunes {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:maxExcerptRunes]) + "..."
}
