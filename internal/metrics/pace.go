package metrics

import "time"

type paceMark struct {
	activeSec float64
	distanceM float64
}

// paceWindow computes "current" pace over a trailing window of active time
// rather than the cumulative average, so the value tracks present effort.
type paceWindow struct {
	windowSec float64
	marks     []paceMark
}

func newPaceWindow(window time.Duration) *paceWindow {
	return &paceWindow{windowSec: window.Seconds()}
}

func (w *paceWindow) mark(activeSec, distanceM float64) {
	w.marks = append(w.marks, paceMark{activeSec: activeSec, distanceM: distanceM})
	cutoff := activeSec - w.windowSec
	for len(w.marks) > 1 && w.marks[0].activeSec < cutoff {
		w.marks = w.marks[1:]
	}
}

// pace returns seconds per km over the trailing window, 0 while no distance
// has been covered in it.
func (w *paceWindow) pace(activeSec, distanceM float64) float64 {
	if len(w.marks) == 0 {
		return 0
	}
	oldest := w.marks[0]
	dd := distanceM - oldest.distanceM
	dt := activeSec - oldest.activeSec
	if dd <= 0 || dt <= 0 {
		return 0
	}
	return dt / (dd / 1000)
}
