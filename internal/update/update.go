// Package update tracks install and update availability and is the single
// channel through which the surrounding UI learns about them.
package update

import (
	"context"
	"sync"

	"todokeep/internal/utils"
)

// State is the snapshot pushed to subscribers on every change.
type State struct {
	Installable     bool // an install affordance is currently available
	Installed       bool // already running as an installed instance
	UpdateAvailable bool // a new generation is waiting to activate
}

// Platform is the host-supplied surface for the install prompt and for
// reloading the active view after an update is applied.
type Platform interface {
	// PromptInstall runs the platform install flow and reports whether
	// the user accepted.
	PromptInstall(ctx context.Context) (bool, error)
	// Reload reloads the active view so a newly current generation takes
	// control.
	Reload()
}

// Lifecycle is the slice of the generation manager the coordinator needs.
type Lifecycle interface {
	Waiting() bool
	SkipWaiting(ctx context.Context) error
}

// Coordinator owns the three availability booleans and a subscriber list.
// State snapshots are published synchronously on every transition; partial
// mutations are never visible to subscribers.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	subs      map[int]func(State)
	nextSubID int

	lifecycle Lifecycle
	platform  Platform
	log       *utils.Logger
}

// New creates a coordinator over the given lifecycle manager and platform.
func New(lifecycle Lifecycle, platform Platform) *Coordinator {
	return &Coordinator{
		subs:      make(map[int]func(State)),
		lifecycle: lifecycle,
		platform:  platform,
		log:       utils.GetLogger(),
	}
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a callback invoked with a state snapshot on every
// change, and immediately with the current state. The returned function
// unsubscribes; neither call drops in-flight notifications to other
// subscribers.
func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	current := c.state
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// publish applies mutate to the state and, if it changed, notifies every
// subscriber synchronously with the new snapshot.
func (c *Coordinator) publish(mutate func(*State)) {
	c.mu.Lock()
	next := c.state
	mutate(&next)
	if next == c.state {
		c.mu.Unlock()
		return
	}
	c.state = next
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

// SetInstallable records whether an install affordance is available.
func (c *Coordinator) SetInstallable(v bool) {
	c.publish(func(s *State) { s.Installable = v })
}

// SetInstalled records whether the app runs as an installed instance.
func (c *Coordinator) SetInstalled(v bool) {
	c.publish(func(s *State) { s.Installed = v })
}

// RefreshUpdateAvailability re-derives UpdateAvailable from the lifecycle
// manager. Call it after every generation state transition.
func (c *Coordinator) RefreshUpdateAvailability() {
	waiting := c.lifecycle.Waiting()
	c.publish(func(s *State) { s.UpdateAvailable = waiting })
}

// RequestInstall triggers the platform install flow and reports whether the
// user accepted. A declined prompt leaves the affordance available.
func (c *Coordinator) RequestInstall(ctx context.Context) (bool, error) {
	if !c.State().Installable {
		return false, nil
	}
	accepted, err := c.platform.PromptInstall(ctx)
	if err != nil {
		return false, err
	}
	if accepted {
		c.publish(func(s *State) {
			s.Installable = false
			s.Installed = true
		})
	}
	return accepted, nil
}

// ApplyUpdate signals the waiting generation to skip waiting and reloads
// the active view so the new generation takes control.
func (c *Coordinator) ApplyUpdate(ctx context.Context) error {
	if err := c.lifecycle.SkipWaiting(ctx); err != nil {
		return err
	}
	c.publish(func(s *State) { s.UpdateAvailable = false })
	c.platform.Reload()
	c.log.Info("update applied, view reloaded")
	return nil
}
