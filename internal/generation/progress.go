package generation

import (
	"io"
	"sync"
)

const (
	progressUploadStart = 10
	progressUploadEnd   = 90
	progressDone        = 100
)

// Observer receives upload/processing progress for one attempt. Values are
// percentages in [0,100], never decrease, and 100 is delivered only after a
// successful response has been received and parsed.
type Observer interface {
	Progress(percent int)
}

// State is the attempt's position in its lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateNormalizing    State = "normalizing"
	StateUploading      State = "uploading"
	StateAwaitingResult State = "awaiting_result"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// StateObserver is optionally implemented by an Observer that also wants
// lifecycle transitions.
type StateObserver interface {
	State(s State)
}

type ObserverFunc func(percent int)

func (f ObserverFunc) Progress(percent int) {
	f(percent)
}

// tracker enforces the Observer contract. Body reads happen on the
// transport's goroutine, hence the lock.
type tracker struct {
	mu    sync.Mutex
	obs   Observer
	last  int
	done  bool
	state State
}

func newTracker(obs Observer) *tracker {
	return &tracker{obs: obs, last: -1, state: StateIdle}
}

// enter moves to s. Transitions out of a terminal state are ignored.
func (t *tracker) enter(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == s || t.state.Terminal() {
		return
	}
	t.state = s
	if so, ok := t.obs.(StateObserver); ok {
		so.State(s)
	}
}

func (t *tracker) report(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent >= progressDone {
		percent = progressDone - 1
	}
	t.emit(percent)
}

func (t *tracker) complete() {
	t.emit(progressDone)
}

func (t *tracker) emit(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || percent <= t.last {
		return
	}
	t.last = percent
	if percent == progressDone {
		t.done = true
	}
	if t.obs != nil {
		t.obs.Progress(percent)
	}
}

// uploadReader maps bytes read from the request body onto the
// [progressUploadStart, progressUploadEnd] band.
type uploadReader struct {
	r     io.Reader
	t     *tracker
	total int64
	sent  int64
}

func (u *uploadReader) Read(p []byte) (int, error) {
	n, err := u.r.Read(p)
	if n > 0 && u.total > 0 {
		u.sent += int64(n)
		span := int64(progressUploadEnd - progressUploadStart)
		u.t.report(progressUploadStart + int(span*u.sent/u.total))
	}
	if err == io.EOF || (u.total > 0 && u.sent >= u.total) {
		u.t.enter(StateAwaitingResult)
	}
	return n, err
}
