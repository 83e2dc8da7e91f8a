// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package refreshtrigger turns a recurring schedule into single
// refresh cycle invocations. The worker holds no cycle state: it fires
// the controller once per cadence tick, reports the terminal state to
// the notifier, and otherwise stays out of the way. A failed cycle
// does not kill the worker; the next tick is the retry mechanism.
package refreshtrigger

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"

	"github.com/cloudacademy/dbrefresh/core/clone"
	"github.com/cloudacademy/dbrefresh/internal/notify"
	"github.com/cloudacademy/dbrefresh/internal/refresher"
)

var logger = loggo.GetLogger("dbrefresh.worker.refreshtrigger")

// RefreshRunner runs one refresh cycle.
type RefreshRunner interface {
	Refresh(ctx context.Context) (*refresher.Result, error)
}

// Notifier publishes cycle outcome events.
type Notifier interface {
	Publish(ctx context.Context, event notify.Event) error
}

// Config holds the worker dependencies.
type Config struct {
	// Source identifies the cluster being refreshed, for events and
	// logs.
	Source string
	// Interval is the refresh cadence.
	Interval time.Duration
	Runner   RefreshRunner
	Notifier Notifier
	Clock    clock.Clock
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Source == "" {
		return errors.NotValidf("empty Source")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	if c.Runner == nil {
		return errors.NotValidf("missing Runner")
	}
	if c.Notifier == nil {
		return errors.NotValidf("missing Notifier")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	return nil
}

// Worker triggers refresh cycles on a fixed cadence.
type Worker struct {
	tomb   tomb.Tomb
	config Config
}

// New returns a started trigger worker.
func New(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

func (w *Worker) loop() error {
	timer := w.config.Clock.NewTimer(w.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			w.runOnce()
			timer.Reset(w.config.Interval)
		}
	}
}

func (w *Worker) runOnce() {
	ctx := w.tomb.Context(context.Background())

	result, err := w.config.Runner.Refresh(ctx)
	switch {
	case errors.Is(err, clone.CycleInFlight):
		// A deliberate no-op, not a failure: another cycle is still
		// working on a newer generation.
		logger.Infof("refresh of %q skipped: %v", w.config.Source, err)
		return
	case errors.Is(err, context.Canceled):
		// Shutdown interrupted the cycle; the context is dead, so
		// nothing can be published on it.
		logger.Infof("refresh of %q interrupted: %v", w.config.Source, err)
		return
	case err != nil:
		logger.Errorf("refresh of %q failed: %v", w.config.Source, err)
		w.publish(ctx, notify.Failure(w.config.Source, err))
		return
	}

	event := notify.Success(w.config.Source, result.Generation, result.ClusterID)
	if result.RetireError != nil {
		event.Warning = result.RetireError.Error()
	}
	logger.Infof("refresh of %q complete: generation %d (%s)", w.config.Source, result.Generation, result.ClusterID)
	w.publish(ctx, event)
}

func (w *Worker) publish(ctx context.Context, event notify.Event) {
	// Delivery is at least once across cycles, not guaranteed within
	// one: if the sink is down the outcome survives in the log and the
	// next cycle publishes again.
	if err := w.config.Notifier.Publish(ctx, event); err != nil {
		logger.Errorf("publishing %s event for %q: %v", event.Outcome, w.config.Source, err)
	}
}
