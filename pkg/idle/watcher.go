// Package idle implements the client half of session lifecycle management:
// an activity tracker and countdown that warns before an idle session times
// out, fires a single expiry event when it does, and coordinates the
// extend/sign-out actions against the server.
package idle

import (
	"context"
	"sync"
	"time"
)

// Config controls the countdown behaviour.
type Config struct {
	// Timeout is the inactivity budget before the session is considered
	// expired on the client.
	Timeout time.Duration
	// WarningThreshold activates the warning state once the remaining time
	// drops to or below it.
	WarningThreshold time.Duration
	// Tick is the countdown evaluation interval (default 1s).
	Tick time.Duration
	// Debounce is the minimum gap between recorded activity updates, so a
	// burst of interaction events costs one timestamp write.
	Debounce time.Duration
}

// Callbacks are invoked with the watcher's internal lock held. They must not
// block and must not call back into the Watcher.
type Callbacks struct {
	// OnWarn fires when the warning state activates, with the remaining time.
	OnWarn func(remaining time.Duration)
	// OnWarnCleared fires when fresh activity lifts the warning.
	OnWarnCleared func()
	// OnExpire fires exactly once per expiry event.
	OnExpire func()
}

// Watcher tracks user activity and counts down to session timeout.
//
// Activity is fire-and-forget and never blocks the caller. Once expired the
// watcher stays expired until Extend succeeds; further activity is ignored
// and OnExpire does not repeat.
type Watcher struct {
	cfg Config
	cb  Callbacks

	// extend refreshes the server-side session; signOut ends it. Both are
	// external collaborators.
	extend  func(context.Context) error
	signOut func(context.Context) error

	now func() time.Time

	mu           sync.Mutex
	started      bool
	lastActivity time.Time
	lastRecorded time.Time
	warned       bool
	expired      bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher constructs a watcher. extend and signOut may be nil if the
// corresponding action is never used.
func NewWatcher(cfg Config, cb Callbacks, extend, signOut func(context.Context) error) *Watcher {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Watcher{
		cfg:     cfg,
		cb:      cb,
		extend:  extend,
		signOut: signOut,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the countdown loop. Activity is counted from now.
func (w *Watcher) Start() {
	w.mu.Lock()
	w.started = true
	w.lastActivity = w.now()
	w.mu.Unlock()

	go w.run()
}

// Stop halts the countdown loop. Safe to call more than once, and a no-op
// on a watcher that was never started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.doneCh
	}
}

// Activity records a debounced user interaction. It never blocks and has no
// effect once the session has expired.
func (w *Watcher) Activity() {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.expired {
		return
	}
	if !w.lastRecorded.IsZero() && now.Sub(w.lastRecorded) < w.cfg.Debounce {
		return
	}
	w.lastRecorded = now
	w.lastActivity = now
}

// Remaining reports the time left before client-side expiry.
func (w *Watcher) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.Timeout - w.now().Sub(w.lastActivity)
}

// Extend refreshes the session via the external refresh operation. On
// success the countdown resets and any warning is dismissed. On failure the
// session is treated as expired: an ambiguous refresh must never leave the
// user silently authenticated.
func (w *Watcher) Extend(ctx context.Context) error {
	err := w.extend(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.expireLocked()
		return err
	}

	w.lastActivity = w.now()
	w.expired = false
	if w.warned {
		w.warned = false
		if w.cb.OnWarnCleared != nil {
			w.cb.OnWarnCleared()
		}
	}
	return nil
}

// SignOut ends the session. The expiry callback always fires afterwards,
// regardless of whether the sign-out call itself succeeded: the local intent
// was to end the session.
func (w *Watcher) SignOut(ctx context.Context) error {
	var err error
	if w.signOut != nil {
		err = w.signOut(ctx)
	}

	w.mu.Lock()
	w.expireLocked()
	w.mu.Unlock()

	return err
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.evaluate()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) evaluate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.expired {
		return
	}

	remaining := w.cfg.Timeout - w.now().Sub(w.lastActivity)

	switch {
	case remaining <= 0:
		w.expireLocked()
	case remaining <= w.cfg.WarningThreshold:
		if !w.warned {
			w.warned = true
			if w.cb.OnWarn != nil {
				w.cb.OnWarn(remaining)
			}
		}
	default:
		if w.warned {
			w.warned = false
			if w.cb.OnWarnCleared != nil {
				w.cb.OnWarnCleared()
			}
		}
	}
}

// expireLocked transitions to the expired state at most once, dismissing any
// active warning first. Caller holds w.mu.
func (w *Watcher) expireLocked() {
	if w.expired {
		return
	}
	w.expired = true
	w.warned = false
	if w.cb.OnExpire != nil {
		w.cb.OnExpire()
	}
}
