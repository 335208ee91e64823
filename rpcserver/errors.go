package rpcserver

import (
	"github.com/jetsetilly/watdbg/errkind"
)

// classifyError turns a core error into a JSON-RPC error code and an
// errkind payload, per §7: user-visible failures always carry the kind tag,
// never a raw OS error code. Errors with no recognised Kind -- a
// programming bug, not a modeled failure -- fall back to a bare internal
// error code with no data.
func classifyError(err error) (code int, data interface{}) {
	if _, ok := err.(invalidParams); ok {
		return codeInvalidParams, nil
	}

	kind, ok := errkind.As(err)
	if !ok {
		return codeInternalError, nil
	}

	switch kind {
	case errkind.InvalidSession, errkind.InvalidBreakpointId:
		code = codeInvalidParams
	case errkind.Timeout:
		code = codeInternalError
	default:
		code = codeInternalError
	}

	return code, map[string]string{"kind": kind.String(), "message": err.Error()}
}
