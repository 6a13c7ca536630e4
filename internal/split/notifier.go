package split

import (
	"backend-stridelink/internal/message"

	"go.uber.org/zap"
)

// Notifier is told about each split as it is detected. Implementations must
// return quickly; the caller sits on the metrics update path.
type Notifier interface {
	SplitReached(sessionID string, ev message.SplitEvent)
}

// LogNotifier announces splits to the structured log. The default when no
// external notification channel is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) SplitReached(sessionID string, ev message.SplitEvent) {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("split reached",
		zap.String("session_id", sessionID),
		zap.Int64("split_index", ev.SplitIndex),
		zap.Float64("distance_m", ev.DistanceM),
		zap.Float64("elapsed_sec", ev.ElapsedSec))
}
