package wire

import "strconv"

// Status is an HTTP-style response status code carried in the response
// topic.
type Status int

const (
	// StatusOK is the final result response carrying the outcome.
	StatusOK Status = 200

	// StatusAccepted acknowledges that the request was received and is
	// being processed; the result follows as a separate response.
	StatusAccepted Status = 202

	// StatusBadRequest indicates a malformed request payload.
	StatusBadRequest Status = 400

	// StatusUnauthorized indicates the credential was rejected.
	StatusUnauthorized Status = 401

	// StatusNotFound indicates the target device is unknown to the hub.
	StatusNotFound Status = 404

	// StatusThrottled indicates the hub is shedding load.
	StatusThrottled Status = 429

	// StatusInternalError indicates a hub-side failure.
	StatusInternalError Status = 500
)

// String returns the status name, or the bare code for unnamed statuses.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "200 OK"
	case StatusAccepted:
		return "202 ACCEPTED"
	case StatusBadRequest:
		return "400 BAD_REQUEST"
	case StatusUnauthorized:
		return "401 UNAUTHORIZED"
	case StatusNotFound:
		return "404 NOT_FOUND"
	case StatusThrottled:
		return "429 THROTTLED"
	case StatusInternalError:
		return "500 INTERNAL_ERROR"
	default:
		return strconv.Itoa(int(s))
	}
}

// IsAccepted returns true for the intermediate acknowledgment.
func (s Status) IsAccepted() bool {
	return s == StatusAccepted
}

// IsSuccess returns true for the final success response.
func (s Status) IsSuccess() bool {
	return s == StatusOK
}

// IsError returns true for any status that is neither the intermediate
// acknowledgment nor the final success response.
func (s Status) IsError() bool {
	return s != StatusOK && s != StatusAccepted
}
