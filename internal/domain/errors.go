package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// DirectoryError marks a failure to read the recipient directory. It is the
// only error that aborts a run.
type DirectoryError struct {
	Err error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("recipient directory: %v", e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

// ContentFetchError marks a failed content fetch; runs continue with an empty batch.
type ContentFetchError struct {
	Source string
	Err    error
}

func (e *ContentFetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("content fetch: %v", e.Err)
	}
	return fmt.Sprintf("content fetch %s: %v", e.Source, e.Err)
}

func (e *ContentFetchError) Unwrap() error { return e.Err }

// FailureCause classifies why a recipient ended up failed.
type FailureCause string

const (
	CauseRender   FailureCause = "render"
	CauseTimeout  FailureCause = "timeout"
	CauseRejected FailureCause = "rejected"
	CauseQuota    FailureCause = "quota"
	CauseProvider FailureCause = "provider"
	CausePanic    FailureCause = "panic"
)

// DeliveryError is returned by mailers for any failed send.
type DeliveryError struct {
	Cause FailureCause
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery %s: %v", e.Cause, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewDeliveryError wraps err, inferring a timeout cause from deadline errors.
func NewDeliveryError(cause FailureCause, err error) *DeliveryError {
	if IsTimeout(err) {
		cause = CauseTimeout
	}
	return &DeliveryError{Cause: cause, Err: err}
}

// RenderError wraps a failure to build a recipient's document.
type RenderError struct {
	RecipientID string
	Err         error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render digest for %s: %v", e.RecipientID, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ClassifyFailure maps an arbitrary per-recipient error onto a cause.
func ClassifyFailure(err error) FailureCause {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Cause
	}
	var re *RenderError
	if errors.As(err, &re) {
		return CauseRender
	}
	if IsTimeout(err) {
		return CauseTimeout
	}
	return CauseProvider
}

// IsTimeout reports deadline expiry or a network timeout anywhere in the chain.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
