// Package rdmnet implements the E1.33 transport family: the ACN root
// layer, Broker/RPT/EPT/LLRP message codecs, and a reconnecting,
// optionally TLS-secured stream client with a broker session state
// machine.
package rdmnet

import (
	"fmt"
)

// Error domains.
const (
	DomainBroker    = "broker"
	DomainRpt       = "rpt"
	DomainEpt       = "ept"
	DomainLlrp      = "llrp"
	DomainTransport = "transport"
	DomainTimeout   = "timeout"
)

// Stable error codes.
const (
	CodeBrokerDecodeError = "BROKER_DECODE_ERROR"
	CodeRptDecodeError    = "RPT_DECODE_ERROR"
	CodeEptDecodeError    = "EPT_DECODE_ERROR"
	CodeLlrpDecodeError   = "LLRP_DECODE_ERROR"
	CodeStreamFraming     = "STREAM_FRAMING_ERROR"

	CodeBrokerRejected         = "BROKER_REJECTED"
	CodeBrokerInvalidScope     = "BROKER_INVALID_SCOPE"
	CodeBrokerUnauthorized     = "BROKER_UNAUTHORIZED"
	CodeBrokerAlreadyConnected = "BROKER_ALREADY_CONNECTED"
	CodeBrokerInvalidRequest   = "BROKER_INVALID_REQUEST"

	CodeNegotiationRoleMismatch    = "NEGOTIATION_ROLE_MISMATCH"
	CodeNegotiationProfileMismatch = "NEGOTIATION_PROFILE_MISMATCH"

	CodeResponseTimeout = "RESPONSE_TIMEOUT"
	CodeProtocolError   = "PROTOCOL_ERROR"
)

// Error is the typed error every RDMnet failure surfaces as. StatusCode
// preserves the numeric broker status for broker status errors.
type Error struct {
	Domain     string
	Code       string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rdmnet: %s/%s: %s", e.Domain, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("rdmnet: %s/%s: %v", e.Domain, e.Code, e.Err)
	}
	return fmt.Sprintf("rdmnet: %s/%s", e.Domain, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(domain, code, format string, args ...interface{}) *Error {
	return &Error{Domain: domain, Code: code, Message: fmt.Sprintf(format, args...)}
}

func decodeError(domain string, err error) *Error {
	code := CodeProtocolError
	switch domain {
	case DomainBroker:
		code = CodeBrokerDecodeError
	case DomainRpt:
		code = CodeRptDecodeError
	case DomainEpt:
		code = CodeEptDecodeError
	case DomainLlrp:
		code = CodeLlrpDecodeError
	}
	return &Error{Domain: domain, Code: code, Err: err}
}

// brokerStatusError maps a non-Ok broker status to its stable code,
// preserving the numeric status.
func brokerStatusError(status StatusCode, text string) *Error {
	code := CodeBrokerRejected
	switch status {
	case StatusInvalidScope:
		code = CodeBrokerInvalidScope
	case StatusUnauthorized:
		code = CodeBrokerUnauthorized
	case StatusAlreadyConnected:
		code = CodeBrokerAlreadyConnected
	case StatusInvalidRequest:
		code = CodeBrokerInvalidRequest
	}
	msg := fmt.Sprintf("broker status %d", status)
	if text != "" {
		msg += ": " + text
	}
	return &Error{Domain: DomainBroker, Code: code, StatusCode: int(status), Message: msg}
}
