// Package heartbeat drives the timeout checks of every registered channel
// from a periodic tick.
package heartbeat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Target is something that decays on its own when checked, usually a
// channel.
type Target interface {
	CheckState()
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func()

// CheckState calls f.
func (f TargetFunc) CheckState() { f() }

// Receiver calls CheckState on every registered target once per tick. A
// panicking target is logged and skipped; the others still run.
type Receiver struct {
	log *log.Logger

	mu      sync.Mutex
	targets map[string]Target

	// OnError is called with the target name after a recovered panic.
	OnError func(name string, err error)
	// OnTick is called after every tick with the number of targets checked.
	OnTick func(checked int)
}

// New creates a Receiver. A nil logger uses the default logger.
func New(logger *log.Logger) *Receiver {
	if logger == nil {
		logger = log.Default()
	}
	return &Receiver{
		log:     logger.WithPrefix("heartbeat"),
		targets: make(map[string]Target),
	}
}

// Add registers a target under name, replacing any target with that name.
func (r *Receiver) Add(name string, t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[name] = t
}

// Remove unregisters a target.
func (r *Receiver) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, name)
}

// Len returns the number of registered targets.
func (r *Receiver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

// Run checks every target on each tick until ctx is done or tick is closed.
func (r *Receiver) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-tick:
			if !ok {
				return
			}
			r.Beat()
		}
	}
}

// Beat runs one heartbeat. Targets are checked in name order outside the
// receiver lock so a target may add or remove targets.
func (r *Receiver) Beat() {
	r.mu.Lock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	targets := make([]Target, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		targets = append(targets, r.targets[name])
	}
	r.mu.Unlock()

	for i, t := range targets {
		if err := check(t); err != nil {
			r.log.Error("error checking state", "target", names[i], "err", err)
			if r.OnError != nil {
				r.OnError(names[i], err)
			}
		}
	}
	if r.OnTick != nil {
		r.OnTick(len(targets))
	}
}

func check(t Target) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	t.CheckState()
	return nil
}
