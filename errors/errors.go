package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrNoPSTNProtocol     = fmt.Errorf("no pstn protocol supported by the bridge")
	ErrDiscoveryAbandoned = fmt.Errorf("protocol discovery abandoned after retries")
	ErrRoomNotFound       = fmt.Errorf("room not found")
	ErrNoCreationEvent    = fmt.Errorf("room has no creation event")
	ErrMissingToken       = fmt.Errorf("authorization token is missing")
	ErrInvalidToken       = fmt.Errorf("invalid or expired token")
)

// MapToHTTPStatus translates service errors into HTTP status codes.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoPSTNProtocol):
		return http.StatusConflict
	case errors.Is(err, ErrDiscoveryAbandoned):
		return http.StatusBadGateway
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
