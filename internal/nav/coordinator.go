package nav

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/i18n"
	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/internal/routing"
	"github.com/curbz/yamka/internal/store"
	"github.com/curbz/yamka/pkg/util"
	"github.com/google/uuid"
	"github.com/mohae/deepcopy"
	log "github.com/sirupsen/logrus"
)

var (
	ErrStopped    = errors.New("navigation coordinator stopped")
	ErrNoPosition = errors.New("no position available")
	// ErrSuperseded is returned when a planned route arrives after the
	// navigation it was planned for has been cancelled or replaced.
	ErrSuperseded = errors.New("route request superseded")
)

// Speaker is the part of the announcer the coordinator drives.
type Speaker interface {
	Announce(instr route.Instruction, lang string, onDone func())
	Cancel()
	SetMuted(muted bool)
}

type timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Coordinator owns the navigation State. Every change happens on the
// goroutine running Run, one event at a time; the exported methods only
// enqueue events and are safe to call from any goroutine.
type Coordinator struct {
	cfg     Config
	tracker *Tracker
	router  routing.Service
	speaker Speaker
	store   store.Store

	events  chan event
	stopped chan struct{}
	runCtx  context.Context

	// loop owned
	state         State
	persisted     store.Record
	rerouteCancel context.CancelFunc
	cooldown      timer
	cooldownSeq   int
	afterFunc     func(time.Duration, func()) timer

	// bumped whenever the route session changes so late results are dropped
	generation atomic.Int64

	snapMu    sync.RWMutex
	published State
	listeners []func(State)
}

// NewCoordinator restores any persisted navigation from st. A persisted
// active navigation waits behind the resume gate until Resume is called.
func NewCoordinator(cfg Config, router routing.Service, speaker Speaker, st store.Store) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("navigation config: %w", err)
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Units == "" {
		cfg.Units = route.Metric
	}

	c := &Coordinator{
		cfg:       cfg,
		tracker:   NewTracker(cfg),
		router:    router,
		speaker:   speaker,
		store:     st,
		events:    make(chan event, 64),
		stopped:   make(chan struct{}),
		runCtx:    context.Background(),
		afterFunc: realAfterFunc,
	}
	c.state = State{
		Progress: newProgress(),
		Language: i18n.Match(cfg.Language).String(),
		Units:    cfg.Units,
	}

	if st != nil {
		rec := store.LoadNavigation(st)
		c.persisted = rec
		if rec.Route != nil {
			c.state.Route = rec.Route
			c.state.Destination = rec.Destination
			c.state.SessionID = uuid.NewString()
			switch {
			case rec.Arrived:
				c.state.Progress.Arrived = true
				c.state.Progress.ArrivalAnnounced = true
				util.LogWithLabel(c.state.SessionID, "restored arrival, waiting for dismissal")
			case rec.IsNavigating:
				c.state.Progress.IsNavigating = true
				c.state.Progress.CurrentInstructionIndex = rec.CurrentInstructionIndex
				c.state.ResumePending = true
				util.LogWithLabel(c.state.SessionID, "restored navigation at instruction %d, waiting for resume", rec.CurrentInstructionIndex)
			default:
				util.LogWithLabel(c.state.SessionID, "restored route preview")
			}
		}
	}
	c.publish()
	return c, nil
}

// Run processes events until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	c.runCtx = ctx
	defer func() {
		c.stopReroute()
		c.stopCooldown()
		close(c.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			ev.run()
			c.publish()
			if ev.done != nil {
				close(ev.done)
			}
		}
	}
}

// event is one unit of work for the loop. done, when set, is closed once the
// resulting state has been published.
type event struct {
	run  func()
	done chan struct{}
}

func (c *Coordinator) post(ev func()) bool {
	return c.enqueue(event{run: ev})
}

func (c *Coordinator) enqueue(ev event) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.stopped:
		return false
	}
}

// call runs ev on the loop and waits until its result is visible to Snapshot.
func (c *Coordinator) call(ev func()) error {
	done := make(chan struct{})
	if !c.enqueue(event{run: ev, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

// Snapshot returns a copy of the state as of the last processed event.
func (c *Coordinator) Snapshot() State {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return deepcopy.Copy(c.published).(State)
}

// Subscribe registers f to receive the state after every event. f runs on
// the event loop and must not block or modify the state it is given.
func (c *Coordinator) Subscribe(f func(State)) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.listeners = append(c.listeners, f)
}

func (c *Coordinator) publish() {
	snap := deepcopy.Copy(c.state).(State)
	c.snapMu.Lock()
	c.published = snap
	listeners := append([]func(State){}, c.listeners...)
	c.snapMu.Unlock()
	for _, f := range listeners {
		f(snap)
	}
}

// UpdatePosition feeds a position sample to the tracker.
func (c *Coordinator) UpdatePosition(pos geolocation.Position) {
	if !pos.Valid() {
		log.Warnf("nav: ignoring invalid position %+v", pos)
		return
	}
	c.post(func() {
		c.state.Position = &pos
		c.state.GeolocationError = ""
		c.evaluate()
	})
}

// ReportPositionError surfaces a geolocation failure. Navigation state is
// left as it is.
func (c *Coordinator) ReportPositionError(err error) {
	if err == nil {
		return
	}
	log.Warnf("nav: geolocation error: %v", err)
	c.post(func() {
		c.state.GeolocationError = err.Error()
	})
}

// LoadRoute adopts r as the active route towards dest. Navigation starts at
// once when the route was planned from the live position, otherwise the route
// is shown as a preview. A malformed route is rejected and the state is kept.
func (c *Coordinator) LoadRoute(r *route.Route, dest route.Coord, fromCurrentLocation bool) error {
	return c.loadRoute(r, dest, fromCurrentLocation, -1)
}

func (c *Coordinator) loadRoute(r *route.Route, dest route.Coord, fromCurrentLocation bool, gen int64) error {
	if err := r.Validate(); err != nil {
		log.Warnf("nav: rejecting route: %v", err)
		if cerr := c.call(func() { c.state.Message = MsgNoRoute }); cerr != nil {
			return cerr
		}
		return err
	}

	var result error
	err := c.call(func() {
		if gen >= 0 && gen != c.generation.Load() {
			result = ErrSuperseded
			return
		}
		if fromCurrentLocation && c.state.Position == nil {
			result = ErrNoPosition
			return
		}
		c.resetSession()
		c.state.Route = r
		c.state.Destination = &dest
		c.state.Progress.IsNavigating = fromCurrentLocation

		label := c.state.SessionID
		util.LogWithLabel(label, "route loaded: %.0fm, %d instructions, navigating=%v",
			r.Length(), len(r.Instructions), fromCurrentLocation)

		c.persist()
		if fromCurrentLocation {
			c.evaluate()
		}
	})
	if err != nil {
		return err
	}
	return result
}

// PlanRoute requests a route to dest and loads it. A nil origin plans from
// the latest position sample and starts navigating; an explicit origin gives
// a preview.
func (c *Coordinator) PlanRoute(ctx context.Context, origin *route.Coord, dest route.Coord) error {
	fromCurrent := origin == nil
	var from route.Coord
	if fromCurrent {
		snap := c.Snapshot()
		if snap.Position == nil {
			return ErrNoPosition
		}
		from = snap.Position.Coord()
	} else {
		from = *origin
	}

	if c.router == nil {
		return fmt.Errorf("nav: %w", routing.ErrNoRoute)
	}

	gen := c.generation.Load()
	lang := c.Snapshot().Language
	r, err := c.router.Route(ctx, routing.Request{Origin: from, Destination: dest, Language: lang})
	if err != nil {
		log.Warnf("nav: route request failed: %v", err)
		if cerr := c.call(func() { c.state.Message = MsgNoRoute }); cerr != nil {
			return cerr
		}
		return err
	}
	return c.loadRoute(r, dest, fromCurrent, gen)
}

// Start begins navigating a previewed route. It needs at least one position
// sample.
func (c *Coordinator) Start() error {
	var err error
	cerr := c.call(func() {
		if c.state.Phase() != Preview || c.state.ResumePending {
			return
		}
		if c.state.Position == nil {
			err = ErrNoPosition
			return
		}
		c.state.Progress = newProgress()
		c.state.Progress.IsNavigating = true
		util.LogWithLabel(c.state.SessionID, "navigation started")
		c.persist()
		c.evaluate()
	})
	if cerr != nil {
		return cerr
	}
	return err
}

// Cancel ends navigation and forgets the route. Pending speech is cut off
// and any in-flight re-route result will be discarded.
func (c *Coordinator) Cancel() error {
	return c.call(func() {
		if c.state.SessionID != "" {
			util.LogWithLabel(c.state.SessionID, "navigation cancelled")
		}
		c.clear()
	})
}

// DismissArrival acknowledges the arrival notice, clearing the route.
func (c *Coordinator) DismissArrival() error {
	return c.call(func() {
		if c.state.Phase() != Arrived {
			return
		}
		util.LogWithLabel(c.state.SessionID, "arrival dismissed")
		c.clear()
	})
}

// Resume answers the resume prompt after a reload. Continuing keeps the
// restored progress; declining ends navigation.
func (c *Coordinator) Resume(resume bool) error {
	return c.call(func() {
		if !c.state.ResumePending {
			return
		}
		if !resume {
			util.LogWithLabel(c.state.SessionID, "restored navigation declined")
			c.clear()
			return
		}
		c.state.ResumePending = false
		util.LogWithLabel(c.state.SessionID, "navigation resumed at instruction %d", c.state.Progress.CurrentInstructionIndex)
		c.evaluate()
	})
}

func (c *Coordinator) SetMuted(muted bool) error {
	return c.call(func() {
		c.state.Muted = muted
		if c.speaker != nil {
			c.speaker.SetMuted(muted)
		}
	})
}

func (c *Coordinator) SetLanguage(lang string) error {
	return c.call(func() {
		c.state.Language = i18n.Match(lang).String()
	})
}

func (c *Coordinator) SetUnits(u route.Units) error {
	if u != route.Metric && u != route.Imperial {
		return fmt.Errorf("nav: unknown units %q", u)
	}
	return c.call(func() {
		c.state.Units = u
	})
}

// Track pumps a geolocation source into the coordinator until ctx is done or
// the source closes.
func (c *Coordinator) Track(ctx context.Context, src geolocation.Source) {
	positions, errs := src.Watch(ctx, geolocation.DefaultWatchOptions)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-positions:
			if !ok {
				return
			}
			c.UpdatePosition(p)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.ReportPositionError(err)
		}
	}
}

// Everything below runs on the event loop.

func (c *Coordinator) evaluate() {
	if c.state.Position == nil {
		return
	}
	for _, in := range c.tracker.Evaluate(c.state, *c.state.Position) {
		c.apply(in)
	}
	c.persist()
}

func (c *Coordinator) apply(in Intent) {
	label := c.state.SessionID
	p := &c.state.Progress

	switch in := in.(type) {
	case AnnounceInstruction:
		p.Announced[in.Index] = true
		instr := c.state.Route.Instructions[in.Index]
		log.WithField("label", label).Debugf("announcing instruction %d (%s)", in.Index, instr.Sign)
		if c.speaker != nil {
			c.speaker.Announce(instr, c.state.Language, nil)
		}

	case AdvanceInstruction:
		log.WithField("label", label).Debugf("advancing to instruction %d", in.To)
		p.CurrentInstructionIndex = in.To

	case RequestReroute:
		util.LogWithLabel(label, "off route by %.0fm, re-routing", in.OffRouteMeters)
		c.startReroute(in.Origin)

	case AnnounceArrival:
		p.ArrivalAnnounced = true
		util.LogWithLabel(label, "arriving")
		gen := c.generation.Load()
		onDone := func() {
			go c.post(func() { c.arrivalSpoken(gen) })
		}
		if c.speaker != nil {
			c.speaker.Announce(route.Instruction{Sign: route.Arrive}, c.state.Language, onDone)
		} else {
			onDone()
		}

	case BackOnRoute:
		if p.RerouteFailures > 0 {
			util.LogWithLabel(label, "back on route after %d failed re-routes", p.RerouteFailures)
		}
		p.RerouteFailures = 0
		c.state.StaleRoute = false
	}
}

func (c *Coordinator) arrivalSpoken(gen int64) {
	if gen != c.generation.Load() || !c.state.Progress.ArrivalAnnounced {
		return
	}
	c.state.Progress.Arrived = true
	c.state.Progress.IsNavigating = false
	c.state.Progress.CurrentInstructionIndex = 0
	util.LogWithLabel(c.state.SessionID, "arrived")
	c.persist()
}

func (c *Coordinator) startReroute(origin route.Coord) {
	dest := c.state.Route.FinalVertex()
	var to route.Coord
	if c.state.Destination != nil {
		to = *c.state.Destination
	} else {
		to = route.CoordFromPoint(dest)
	}

	c.state.Progress.IsReRouting = true
	c.state.Message = MsgRecalculating
	gen := c.generation.Load()

	ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.RerouteTimeout)
	c.rerouteCancel = cancel
	req := routing.Request{Origin: origin, Destination: to, Language: c.state.Language}
	router := c.router

	go func() {
		defer cancel()
		var r *route.Route
		err := fmt.Errorf("nav: %w", routing.ErrNoRoute)
		if router != nil {
			r, err = router.Route(ctx, req)
		}
		c.post(func() { c.rerouteDone(gen, r, err) })
	}()
}

func (c *Coordinator) rerouteDone(gen int64, r *route.Route, err error) {
	label := c.state.SessionID
	if gen != c.generation.Load() {
		log.WithField("label", label).Debug("discarding re-route result from an ended session")
		return
	}
	c.rerouteCancel = nil
	if c.state.Message == MsgRecalculating {
		c.state.Message = ""
	}

	if err == nil {
		err = r.Validate()
	}
	if err != nil {
		c.state.Progress.RerouteFailures++
		c.state.StaleRoute = true
		util.WarnWithLabel(label, "re-route failed (%d of %d): %v",
			c.state.Progress.RerouteFailures, c.cfg.MaxRerouteAttempts, err)
		// IsReRouting stays set until the cool-down expires
		c.startCooldown()
		return
	}

	c.state.Route = r
	c.state.Progress = newProgress()
	c.state.Progress.IsNavigating = true
	c.state.StaleRoute = false
	util.LogWithLabel(label, "re-routed: %.0fm, %d instructions", r.Length(), len(r.Instructions))
	c.startCooldown()
	c.persist()
	c.evaluate()
}

func (c *Coordinator) startCooldown() {
	c.stopCooldown()
	c.state.Progress.CoolingDown = true
	c.cooldownSeq++
	seq := c.cooldownSeq
	c.cooldown = c.afterFunc(c.cfg.RerouteCooldown, func() {
		c.post(func() { c.cooldownExpired(seq) })
	})
}

func (c *Coordinator) stopCooldown() {
	if c.cooldown != nil {
		c.cooldown.Stop()
		c.cooldown = nil
	}
}

func (c *Coordinator) cooldownExpired(seq int) {
	if seq != c.cooldownSeq || c.cooldown == nil {
		return
	}
	c.cooldown = nil
	c.state.Progress.CoolingDown = false
	c.state.Progress.IsReRouting = false
	c.evaluate()
}

func (c *Coordinator) stopReroute() {
	if c.rerouteCancel != nil {
		c.rerouteCancel()
		c.rerouteCancel = nil
	}
}

// resetSession drops everything tied to the current route.
func (c *Coordinator) resetSession() {
	c.generation.Add(1)
	c.stopReroute()
	c.stopCooldown()
	if c.speaker != nil {
		c.speaker.Cancel()
	}
	c.state.Route = nil
	c.state.Destination = nil
	c.state.Progress = newProgress()
	c.state.ResumePending = false
	c.state.StaleRoute = false
	c.state.Message = ""
	c.state.SessionID = uuid.NewString()
}

func (c *Coordinator) clear() {
	c.resetSession()
	c.state.SessionID = ""
	c.persist()
}

// persist writes the resume record through to the store whenever it changed.
func (c *Coordinator) persist() {
	if c.store == nil {
		return
	}
	rec := store.Record{
		IsNavigating:            c.state.Progress.IsNavigating,
		Route:                   c.state.Route,
		Destination:             c.state.Destination,
		CurrentInstructionIndex: c.state.Progress.CurrentInstructionIndex,
		Arrived:                 c.state.Progress.Arrived,
	}
	if rec == c.persisted {
		return
	}

	var err error
	if rec.Route == nil {
		err = store.ClearNavigation(c.store)
	} else {
		err = store.SaveNavigation(c.store, rec)
	}
	if err != nil {
		util.WarnWithLabel(c.state.SessionID, "failed to persist navigation state: %v", err)
		return
	}
	c.persisted = rec
}
