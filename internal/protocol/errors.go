package protocol

const (
	// Transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrUnauthorized    = "E_UNAUTHORIZED"

	// Request layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrNotFound   = "E_NOT_FOUND"
	ErrWrongQuiz  = "E_WRONG_ANSWER"
	ErrBackend    = "E_BACKEND"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrUnauthorized:    {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrWrongQuiz:       {},
	ErrBackend:         {},
	ErrInternal:        {},
}

// IsKnownCode reports whether code is empty or one of the defined codes.
func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
