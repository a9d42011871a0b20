// Package monitor owns the session state of the diameter monitor.
//
// A Controller runs a single loop that is the only writer of the State. The
// loop multiplexes the device poll ticker, decoded readings and commands from
// the presentation layer, so state changes are applied one at a time and
// broadcast in the order they happened.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shaunagostinho/diameter-dash/internal/gauge"
	"github.com/shaunagostinho/diameter-dash/internal/recorder"
	"github.com/shaunagostinho/diameter-dash/internal/settings"
)

// Device is the gauge connection driven by the loop.
type Device interface {
	// Poll is called at most once at a time and may block.
	Poll(ctx context.Context) gauge.Transition
	Readings() <-chan float64
	Close() error
}

// SettingsStore persists the user-editable settings.
type SettingsStore interface {
	Save(settings.Settings) error
}

// Desktop opens the native folder picker and file browser.
type Desktop interface {
	// PickFolder returns the chosen directory, or "" if the user cancelled.
	PickFolder(ctx context.Context, start string) (string, error)
	OpenFolder(ctx context.Context, path string) error
}

// Recording is an open session file.
type Recording interface {
	Append(diameter float64) error
	Close() error
	Path() string
}

// Options tune a Controller. Zero values select the defaults.
type Options struct {
	PollInterval  time.Duration
	Desktop       Desktop
	Now           func() time.Time
	OpenRecording func(path string) (Recording, error)
}

type command struct {
	fn    func() error
	reply chan error
}

// Controller is the recording controller and the owner of the State.
type Controller struct {
	device        Device
	store         SettingsStore
	desktop       Desktop
	pollInterval  time.Duration
	now           func() time.Time
	openRecording func(path string) (Recording, error)

	// Loop-owned.
	state   State
	rec     Recording
	picking bool
	polling bool
	runCtx  context.Context

	cmds     chan command
	pollDone chan gauge.Transition
	events   chan Event
	done     chan struct{}
}

// New creates a Controller starting from the persisted settings.
func New(device Device, store SettingsStore, initial settings.Settings, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OpenRecording == nil {
		opts.OpenRecording = func(path string) (Recording, error) { return recorder.Open(path) }
	}
	return &Controller{
		device:        device,
		store:         store,
		desktop:       opts.Desktop,
		pollInterval:  opts.PollInterval,
		now:           opts.Now,
		openRecording: opts.OpenRecording,
		state:         newState(initial),
		runCtx:        context.Background(),
		cmds:          make(chan command),
		pollDone:      make(chan gauge.Transition, 1),
		events:        make(chan Event, 256),
		done:          make(chan struct{}),
	}
}

// Events is the ordered stream of diameter and state events. It must be
// drained; the loop waits for room rather than dropping events.
func (c *Controller) Events() <-chan Event { return c.events }

// Run drives the controller until ctx is cancelled. The first event is the
// initial state. On return any active recording has been closed and the
// device released.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)
	defer c.shutdown()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	log.Printf("[monitor] polling for gauge every %v", c.pollInterval)
	c.broadcast()
	c.requestPoll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.requestPoll()
		case tr := <-c.pollDone:
			c.polling = false
			c.applyTransition(tr)
		case v := <-c.device.Readings():
			c.handleReading(v)
		case cmd := <-c.cmds:
			cmd.reply <- cmd.fn()
		}
	}
}

func (c *Controller) shutdown() {
	if err := c.stop(); err != nil {
		log.Printf("[monitor] stop on shutdown: %v", err)
	}
	// A poll still in flight may be opening the port.
	if c.polling {
		<-c.pollDone
		c.polling = false
	}
	if err := c.device.Close(); err != nil {
		log.Printf("[monitor] close device: %v", err)
	}
}

// requestPoll starts a device poll unless one is still running.
func (c *Controller) requestPoll() {
	if c.polling {
		return
	}
	c.polling = true
	ctx := c.runCtx
	// pollDone has room for the one poll in flight.
	go func() { c.pollDone <- c.device.Poll(ctx) }()
}

func (c *Controller) applyTransition(tr gauge.Transition) {
	switch tr {
	case gauge.BecameConnected:
		if c.state.Connected {
			return
		}
		log.Printf("[monitor] gauge connected")
		c.state.Connected = true
		c.broadcast()

	case gauge.BecameDisconnected:
		if !c.state.Connected {
			return
		}
		log.Printf("[monitor] gauge disconnected")
		if c.state.Recording {
			if err := c.stop(); err != nil {
				log.Printf("[monitor] stop after disconnect: %v", err)
			}
		}
		c.state.Connected = false
		c.broadcast()
	}
}

// handleReading forwards a reading for display and, while recording, logs
// it and updates the extrema.
func (c *Controller) handleReading(v float64) {
	c.emit(Event{Type: EventDiameter, Diameter: v})

	if !c.state.Recording {
		return
	}
	if err := c.rec.Append(v); err != nil {
		log.Printf("[monitor] record reading: %v", err)
	}
	if v > c.state.Max {
		c.state.Max = v
		c.broadcast()
	}
	if v < c.state.Min {
		c.state.Min = v
		c.broadcast()
	}
}

func (c *Controller) start() error {
	if !c.state.Connected {
		return ErrNotConnected
	}
	if c.state.Recording {
		return ErrAlreadyRecording
	}
	if c.state.SaveLocation == "" {
		return ErrNoSaveLocation
	}

	c.state.SpoolNumber++
	if err := c.store.Save(c.state.Settings()); err != nil {
		log.Printf("[monitor] save settings: %v", err)
	}

	name := recorder.FileName(c.state.Description, c.now(), c.state.SpoolNumber)
	rec, err := c.openRecording(filepath.Join(c.state.SaveLocation, name))
	if err != nil {
		// The spool number has moved on; retrying starts the next spool.
		c.broadcast()
		return fmt.Errorf("start recording: %w", err)
	}

	c.rec = rec
	c.state.Min = math.Inf(1)
	c.state.Max = 0
	c.state.Recording = true
	log.Printf("[monitor] recording spool %d to %s", c.state.SpoolNumber, rec.Path())
	c.broadcast()
	return nil
}

func (c *Controller) stop() error {
	if !c.state.Recording {
		return nil
	}
	err := c.rec.Close()
	c.rec = nil
	c.state.Recording = false
	log.Printf("[monitor] recording stopped (spool %d)", c.state.SpoolNumber)
	c.broadcast()
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return nil
}

func (c *Controller) setState(p Patch) error {
	if p.Empty() {
		return nil
	}
	next := c.state
	p.apply(&next)
	if err := next.Settings().Validate(); err != nil {
		return err
	}
	if next.BatchNumber < 0 {
		return fmt.Errorf("%w: batchNumber %d is negative", settings.ErrInvalid, next.BatchNumber)
	}
	c.state = next
	c.broadcast()
	if err := c.store.Save(c.state.Settings()); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (c *Controller) broadcast() {
	snap := c.state
	c.emit(Event{Type: EventState, State: &snap})
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.runCtx.Done():
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("monitor stopped")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect asks for an immediate device poll. Polling runs continuously
// anyway, so this never fails for device reasons.
func (c *Controller) Connect(ctx context.Context) Result {
	return resultOf(c.do(ctx, func() error {
		c.requestPoll()
		return nil
	}))
}

// Start begins a recording session.
func (c *Controller) Start(ctx context.Context) Result {
	return resultOf(c.do(ctx, c.start))
}

// Stop ends the recording session. Stopping while idle does nothing.
func (c *Controller) Stop(ctx context.Context) Result {
	return resultOf(c.do(ctx, c.stop))
}

// SetState applies a patch of user-editable fields and persists them.
func (c *Controller) SetState(ctx context.Context, p Patch) Result {
	return resultOf(c.do(ctx, func() error { return c.setState(p) }))
}

// Snapshot returns the current state.
func (c *Controller) Snapshot(ctx context.Context) (State, error) {
	var s State
	err := c.do(ctx, func() error {
		s = c.state
		return nil
	})
	return s, err
}

// ChooseFolder opens the native folder picker and, if a folder is chosen,
// makes it the save location. Only one picker may be open at a time. The
// loop keeps running while the picker is up.
func (c *Controller) ChooseFolder(ctx context.Context) Result {
	if c.desktop == nil {
		return resultOf(errors.New("no folder picker available"))
	}

	var start string
	err := c.do(ctx, func() error {
		if c.picking {
			return ErrPickerOpen
		}
		c.picking = true
		start = c.state.SaveLocation
		return nil
	})
	if err != nil {
		return resultOf(err)
	}

	path, pickErr := c.desktop.PickFolder(ctx, start)

	err = c.do(context.Background(), func() error {
		c.picking = false
		if pickErr != nil {
			return fmt.Errorf("choose folder: %w", pickErr)
		}
		if path == "" {
			return nil
		}
		return c.setState(Patch{SaveLocation: &path})
	})
	return resultOf(err)
}

// OpenFolder shows the save location in the system file browser, creating
// it first if needed.
func (c *Controller) OpenFolder(ctx context.Context) Result {
	if c.desktop == nil {
		return resultOf(errors.New("no file browser available"))
	}

	var path string
	err := c.do(ctx, func() error {
		path = c.state.SaveLocation
		if path == "" {
			return ErrNoSaveLocation
		}
		return nil
	})
	if err != nil {
		return resultOf(err)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return resultOf(fmt.Errorf("open folder: %w", err))
	}
	if err := c.desktop.OpenFolder(ctx, path); err != nil {
		return resultOf(fmt.Errorf("open folder: %w", err))
	}
	return resultOf(nil)
}
