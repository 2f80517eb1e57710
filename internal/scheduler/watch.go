package scheduler

import (
	"github.com/fsnotify/fsnotify"
)

// WakeWatcher wraps an fsnotify watcher rooted at the state directory so
// the run loop can wake early on any write under it (a pause sentinel
// appearing, a config reload touch, an orphan-cleanup marker) instead of
// sleeping out the full tick interval. Tick itself never depends on
// this: IsPaused still re-checks the sentinel with a plain os.Stat at
// the top of every tick, so a missed or coalesced fsnotify event only
// costs a delayed reaction, never a wrong one.
type WakeWatcher struct {
	w     *fsnotify.Watcher
	Woken <-chan struct{}
}

// WatchStateDir starts watching stateDir for filesystem events and
// returns a WakeWatcher whose Woken channel receives a value on every
// event. Callers should select on Woken alongside their tick timer.
func WatchStateDir(stateDir string) (*WakeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(stateDir); err != nil {
		_ = w.Close()
		return nil, err
	}

	woken := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case woken <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return &WakeWatcher{w: w, Woken: woken}, nil
}

// Close stops watching and releases the underlying inotify/kqueue
// handle.
func (w *WakeWatcher) Close() error {
	return w.w.Close()
}
