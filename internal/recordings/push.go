package recordings

import (
	"context"

	"github.com/trainermatch/backend/internal/capture"
	"github.com/trainermatch/backend/internal/models"
	"github.com/trainermatch/backend/internal/realtime"
	"github.com/trainermatch/backend/internal/recording"
)

// Broadcaster pushes an event to every connected socket of a role.
type Broadcaster interface {
	BroadcastRole(role, event string, payload interface{})
}

// PushState forwards capture and recording snapshots to trainer sockets until
// ctx is done or both channels are closed.
func PushState(ctx context.Context, captureStates <-chan capture.State, recordingStates <-chan recording.Status, b Broadcaster) {
	trainer := string(models.RoleTrainer)
	for captureStates != nil || recordingStates != nil {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-captureStates:
			if !ok {
				captureStates = nil
				continue
			}
			b.BroadcastRole(trainer, realtime.EventCaptureState, st)
		case st, ok := <-recordingStates:
			if !ok {
				recordingStates = nil
				continue
			}
			b.BroadcastRole(trainer, realtime.EventRecordingState, st)
		}
	}
}
