package mock

import "errors"

// Mock hub errors. Injected failures wrap these so tests can assert the
// failure origin with errors.Is.
var (
	// ErrConnectRefused is the cause behind injected connect failures.
	ErrConnectRefused = errors.New("mock: connect refused")

	// ErrSubscribeRefused is the cause behind injected subscribe failures.
	ErrSubscribeRefused = errors.New("mock: subscribe refused")

	// ErrPublishRefused is the cause behind injected publish failures.
	ErrPublishRefused = errors.New("mock: publish refused")

	// ErrConnectionDropped is the default loss reason for DropConnection.
	ErrConnectionDropped = errors.New("mock: connection dropped")
)
