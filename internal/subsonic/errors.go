package subsonic

import "fmt"

// Protocol error codes the client reacts to specifically.
const (
	CodeGeneric            = 0
	CodeMissingParameter   = 10
	CodeClientTooOld       = 20
	CodeServerTooOld       = 30
	CodeWrongCredentials   = 40
	CodeTokenNotSupported  = 41
	CodeNotAuthorized      = 50
	CodeTrialOver          = 60
	CodeNotFound           = 70
)

// ProtocolError is an application-level error the server returned inside a
// well-formed envelope.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// IsCredentialError reports whether the failure concerns credentials or
// licensing, which update server validity flags as a first-class side effect.
func (e *ProtocolError) IsCredentialError() bool {
	return e.Code == CodeWrongCredentials || e.Code == CodeTokenNotSupported ||
		e.Code == CodeNotAuthorized || e.Code == CodeTrialOver
}

// CodecError means a payload did not match the expected shape. Retrying the
// request cannot help; the graph is never touched.
type CodecError struct {
	Reason string
	Cause  error
}

func (e *CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("codec: %s: %v", e.Reason, e.Cause)
	}
	return "codec: " + e.Reason
}

func (e *CodecError) Unwrap() error { return e.Cause }
