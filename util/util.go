package util

import (
	"context"
	"errors"
	"fmt"
	"time"
)

func SleepCtx(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// Error kinds as reported to the bridge layer
const (
	KindMalformedInput = "MalformedInput"
	KindDecode         = "DecodeError"
	KindPaint          = "TransientPaintError"
	KindShutdown       = "ShutdownTimeout"
	KindUnknown        = "Unknown"
)

// Unparseable or empty blob. No frame effect.
type MalformedInputError struct {
	Msg string
}

func (e *MalformedInputError) Error() string {
	return e.Msg
}

// The decoder rejected or failed on a batch. The last good frame stays.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// One render iteration failed. Logged, the loop keeps going.
type TransientPaintError struct {
	Iteration uint64
	Err       error
}

func (e *TransientPaintError) Error() string {
	return fmt.Sprintf("paint iteration %d failed: %v", e.Iteration, e.Err)
}

func (e *TransientPaintError) Unwrap() error {
	return e.Err
}

// The render loop did not exit within the join window.
type ShutdownTimeoutWarning struct {
	Timeout time.Duration
}

func (e *ShutdownTimeoutWarning) Error() string {
	return fmt.Sprintf("render loop still running after %v, abandoning wait", e.Timeout)
}

func Kind(err error) string {
	var (
		malformed *MalformedInputError
		decode    *DecodeError
		paint     *TransientPaintError
		shutdown  *ShutdownTimeoutWarning
	)
	switch {
	case errors.As(err, &malformed):
		return KindMalformedInput
	case errors.As(err, &decode):
		return KindDecode
	case errors.As(err, &paint):
		return KindPaint
	case errors.As(err, &shutdown):
		return KindShutdown
	}
	return KindUnknown
}
