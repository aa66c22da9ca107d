package companion

import (
	"errors"
	"fmt"
)

// Sentinel errors of the companion client.
var (
	ErrDisconnected = errors.New("companion disconnected")
	ErrTimeout      = errors.New("companion call timed out")
	ErrClosed       = errors.New("companion client closed")
)

// Error codes the companion answers with.
const (
	CodeNotReady = "not_ready"
	CodeNotFound = "not_found"

	codeDisconnected = "disconnected"
)

// RPCError is an error answered by the companion.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("companion error %s: %s", e.Code, e.Message)
}
