package sync

import "log/slog"

// Stage identifies the phase a progress notification belongs to. Stages
// are strictly ordered: preparing, then downloading/moving, then
// cleanup, then complete. Within a stage Current never decreases.
type Stage string

const (
	StagePreparing   Stage = "preparing"
	StageDownloading Stage = "downloading"
	StageMoving      Stage = "moving"
	StageCleanup     Stage = "cleanup"
	StageComplete    Stage = "complete"
)

// Progress is one stage-tagged notification. Current and Total are zero
// for messages that are not part of a counted batch.
type Progress struct {
	Stage   Stage
	Message string
	Current int
	Total   int
}

// Notifier receives progress notifications during execution. It must
// not block; slow consumers stall the executor.
type Notifier interface {
	Notify(Progress)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Progress)

// Notify implements Notifier.
func (f NotifierFunc) Notify(p Progress) { f(p) }

// NopNotifier discards all notifications.
func NopNotifier() Notifier {
	return NotifierFunc(func(Progress) {})
}

// LogNotifier logs each notification through the given logger.
func LogNotifier(logger *slog.Logger) Notifier {
	return NotifierFunc(func(p Progress) {
		if p.Total > 0 {
			logger.Info(p.Message, "stage", string(p.Stage), "current", p.Current, "total", p.Total)
			return
		}
		logger.Info(p.Message, "stage", string(p.Stage))
	})
}
