package vfs

import (
	"strconv"
)

// Error is a collaborator error code. Codes are opaque small integers owned
// by the collaborator; the binding only wraps them.
//
// The codes the binding raises locally are defined here and follow the
// WebAPI exception numbering the collaborator already uses.
type Error int32

// Common error codes. Other codes reported by the collaborator are carried
// as-is and print as their number.
const (
	ErrorUnknown             = Error(0)
	ErrorNotFound            = Error(8)
	ErrorNotSupported        = Error(9)
	ErrorInvalidState        = Error(11)
	ErrorTypeMismatch        = Error(17)
	ErrorSecurity            = Error(18)
	ErrorAborted             = Error(20)
	ErrorTimeout             = Error(23)
	ErrorInvalidValues       = Error(100)
	ErrorIO                  = Error(101)
	ErrorServiceNotAvailable = Error(111)
)

// Error description table
var errorDescriptions = map[Error]string{
	ErrorUnknown:             "unknown error",
	ErrorNotFound:            "not found",
	ErrorNotSupported:        "not supported",
	ErrorInvalidState:        "invalid state",
	ErrorTypeMismatch:        "type mismatch",
	ErrorSecurity:            "security error",
	ErrorAborted:             "operation aborted",
	ErrorTimeout:             "timed out",
	ErrorInvalidValues:       "invalid values",
	ErrorIO:                  "input/output error",
	ErrorServiceNotAvailable: "service not available",
}

// Error prints the description of the error.
func (e Error) Error() string {
	desc := errorDescriptions[e]
	if desc != "" {
		return desc
	}
	return "vfs error code " + strconv.Itoa(int(e))
}

// Code returns the numeric code sent over the wire.
func (e Error) Code() int { return int(e) }
