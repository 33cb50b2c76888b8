// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package controller runs the discovery loop: it asks the radio what to do
// next, feeds discoveries through the hysteresis policy and turns the result
// into encounter events.
package controller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hrissan/sddr/clock"
	"github.com/hrissan/sddr/events"
	"github.com/hrissan/sddr/hysteresis"
	"github.com/hrissan/sddr/options"
	"github.com/hrissan/sddr/radio"
	"github.com/hrissan/sddr/stats"
)

type Callback func(ev *events.EncounterEvent)

type Controller struct {
	radio        radio.Radio
	policy       *hysteresis.Policy
	stats        stats.Stats
	clock        clock.Clock
	rssiInterval time.Duration

	callback Callback // set before Run
	running  atomic.Bool
}

func New(r radio.Radio, opts *options.Options) *Controller {
	c := &Controller{
		radio:        r,
		policy:       hysteresis.New(opts.Hysteresis, opts.Stats),
		stats:        opts.Stats,
		clock:        opts.Clock,
		rssiInterval: opts.RSSIReportInterval,
	}
	c.callback = c.stats.Encounter
	return c
}

// SetCallback replaces the default callback, which only reports to Stats.
// Must not be called while Run is active.
func (c *Controller) SetCallback(fn Callback) {
	if fn == nil {
		fn = c.stats.Encounter
	}
	c.callback = fn
}

func (c *Controller) Policy() *hysteresis.Policy { return c.policy }

// Run initializes the radio and loops until Stop or ctx is done.
// Returns nil after Stop, ctx error after cancellation.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.radio.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize radio: %w", err)
	}
	c.running.Store(true)
	for c.running.Load() {
		if err := c.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}
	}
	return nil
}

// Stop is cooperative, the current step finishes first.
func (c *Controller) Stop() { c.running.Store(false) }

func (c *Controller) Running() bool { return c.running.Load() }

// Step waits for and performs a single radio action. The radio must
// already be initialized.
func (c *Controller) Step(ctx context.Context) error {
	info := c.radio.NextAction(c.clock.Now())
	c.stats.ControllerAction(info.Action.String(), info.Wait)
	if info.Wait > 0 {
		if err := c.clock.Sleep(ctx, info.Wait); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch info.Action {
	case radio.ActionChangeEpoch:
		return c.radio.ChangeEpoch(ctx)
	case radio.ActionDiscover:
		evs, err := c.discover(ctx)
		if err != nil {
			return err
		}
		for i := range evs {
			c.callback(&evs[i])
		}
		return nil
	}
	return fmt.Errorf("unknown radio action %s", info.Action)
}

func (c *Controller) discover(ctx context.Context) ([]events.EncounterEvent, error) {
	discovered, err := c.radio.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	now := c.clock.Now()
	toHandshake, newly := c.policy.Discovered(now, discovered)
	encountered, err := c.radio.Handshake(ctx, toHandshake)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	c.policy.Encountered(now, encountered)

	var out []events.EncounterEvent
	for _, s := range newly {
		out = append(out, events.EncounterEvent{
			Type: events.EncounterUnconfirmedStarted,
			Time: s.Time,
			ID:   s.ID,
		})
	}
	// adverts and scan responses of one device arrive as separate discoveries
	ids := make([]events.DeviceID, 0, len(discovered))
	for _, d := range discovered {
		ids = append(ids, d.ID)
	}
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		if ev, ok := c.radio.DeviceEvent(id, now, c.rssiInterval); ok {
			out = append(out, ev)
		}
	}
	for _, s := range c.policy.CheckExpired(now) {
		if ev, ok := c.radio.DoneWithDevice(s.ID, now); ok {
			ev.Time = s.Time
			out = append(out, ev)
		}
	}
	return out, nil
}
