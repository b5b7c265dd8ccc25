package capture

import "context"

// Authorization is the camera permission state.
type Authorization string

const (
	AuthorizationUndetermined Authorization = "undetermined"
	AuthorizationAuthorized   Authorization = "authorized"
	AuthorizationDenied       Authorization = "denied"
)

// Position is the direction the active camera faces.
type Position string

const (
	PositionFront Position = "front"
	PositionBack  Position = "back"
)

// Opposite returns the other camera position.
func (p Position) Opposite() Position {
	if p == PositionFront {
		return PositionBack
	}
	return PositionFront
}

// Driver is the hardware capture pipeline. Only the Manager calls it.
//
// For every BeginRecording that returns nil, finalized is called exactly once,
// from any goroutine, when the output file is closed (after EndRecording, Halt,
// or a pipeline failure). A non-nil error means the file may be partial.
type Driver interface {
	RequestAccess(ctx context.Context) (Authorization, error)
	// Configure opens the video input at pos and a default audio input when one
	// is available. It reports whether audio was attached.
	Configure(ctx context.Context, pos Position) (audio bool, err error)
	Run() error
	Halt() error
	SwapInput(pos Position) error
	BeginRecording(path string, finalized func(err error)) error
	EndRecording() error
}
