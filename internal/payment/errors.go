package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/x402arcade/backend/internal/apperr"
)

type TransportReason string

const (
	ReasonTimeout     TransportReason = "timeout"
	ReasonNetwork     TransportReason = "network"
	ReasonFacilitator TransportReason = "facilitator"
	ReasonRejected    TransportReason = "rejected"
)

// TransportError is a settlement call that did not produce a usable settlement.
type TransportError struct {
	Reason TransportReason
	// Timeout is the configured bound when Reason is ReasonTimeout.
	Timeout time.Duration
	// Code and Message describe the facilitator reply when one arrived.
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *TransportError) Error() string {
	switch e.Reason {
	case ReasonTimeout:
		return fmt.Sprintf("settlement timed out after %s", e.Timeout)
	case ReasonNetwork:
		return fmt.Sprintf("settlement network error: %v", e.Err)
	case ReasonRejected:
		return fmt.Sprintf("settlement rejected (status %d): %s: %s", e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("facilitator error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Kind() apperr.Kind { return apperr.KindTransport }

func (e *TransportError) ErrorCode() string {
	switch e.Reason {
	case ReasonTimeout:
		return "SETTLEMENT_TIMEOUT"
	case ReasonNetwork:
		return "SETTLEMENT_NETWORK_ERROR"
	case ReasonRejected:
		if e.Code != "" {
			return e.Code
		}
		return "SETTLEMENT_REJECTED"
	default:
		return "FACILITATOR_ERROR"
	}
}

// Rejected builds the error for a reply that arrived but did not settle.
func Rejected(resp *Response) *TransportError {
	fe := ExtractError(resp)
	return &TransportError{Reason: ReasonRejected, Code: fe.Code, Message: fe.Message, Status: resp.Status}
}

// Unreadable builds the error for a reply whose body could not be parsed.
// The payment may have settled, so it is not reported as a rejection.
func Unreadable(resp *Response) *TransportError {
	fe := ExtractError(resp)
	return &TransportError{
		Reason:  ReasonFacilitator,
		Code:    fe.Code,
		Message: fe.Message,
		Status:  resp.Status,
		Err:     fmt.Errorf("unreadable facilitator reply (status %d): %s", resp.Status, fe.Message),
	}
}

// ValidationError lists every problem found in a settlement request.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid payment payload: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Kind() apperr.Kind { return apperr.KindValidation }

func (e *ValidationError) ErrorCode() string { return "INVALID_PAYLOAD" }
