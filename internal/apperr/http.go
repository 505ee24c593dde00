package apperr

import "net/http"

// HTTPStatus maps a Kind onto the REST status code table of the error
// handling design.
func HTTPStatus(k Kind) int {
	switch k {
	case KindConfiguration, KindProtocol:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBadState:
		return http.StatusConflict
	case KindRateLimited, KindCapExceeded:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WSCloseCode maps a Kind onto a WebSocket close code. Only session-invalid
// gets a distinct code (4004); everything else is reported as a frame and
// the socket stays open.
const CloseSessionInvalid = 4004

func WSCloseCode(k Kind) int {
	if k == KindSessionInvalid {
		return CloseSessionInvalid
	}
	return 0
}
