package nav

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/route"
	"github.com/curbz/yamka/internal/routing"
	"github.com/curbz/yamka/internal/store"
	"github.com/curbz/yamka/pkg/geometry"
	"github.com/paulmach/orb"
)

type routeResult struct {
	r   *route.Route
	err error
}

type fakeRouter struct {
	mu       sync.Mutex
	requests []routing.Request
	// when set, Route blocks until a result is sent
	results   chan routeResult
	ignoreCtx bool
	route     *route.Route
	err       error
}

func (f *fakeRouter) Route(ctx context.Context, req routing.Request) (*route.Route, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	results := f.results
	f.mu.Unlock()

	if results != nil {
		if f.ignoreCtx {
			res := <-results
			return res.r, res.err
		}
		select {
		case res := <-results:
			return res.r, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.route, f.err
}

func (f *fakeRouter) Requests() []routing.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]routing.Request(nil), f.requests...)
}

type fakeSpeaker struct {
	mu      sync.Mutex
	signs   []route.Sign
	cancels int
	muted   bool
	// when set, completions are held until release
	hold    bool
	pending []func()
}

func (f *fakeSpeaker) Announce(instr route.Instruction, lang string, onDone func()) {
	f.mu.Lock()
	f.signs = append(f.signs, instr.Sign)
	hold := f.hold
	if hold && onDone != nil {
		f.pending = append(f.pending, onDone)
	}
	f.mu.Unlock()
	if !hold && onDone != nil {
		onDone()
	}
}

func (f *fakeSpeaker) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeSpeaker) SetMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = muted
}

func (f *fakeSpeaker) release() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, done := range pending {
		done()
	}
}

func (f *fakeSpeaker) count(sign route.Sign) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.signs {
		if s == sign {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

// pending counts timers that are neither stopped nor fired.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fire runs every pending timer.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type harness struct {
	c       *Coordinator
	router  *fakeRouter
	speaker *fakeSpeaker
	clock   *fakeClock
	store   *store.MemoryStore
}

func newHarness(t *testing.T, st *store.MemoryStore, router *fakeRouter) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	if router == nil {
		router = &fakeRouter{}
	}
	h := &harness{router: router, speaker: &fakeSpeaker{}, clock: &fakeClock{}, store: st}

	c, err := NewCoordinator(DefaultConfig(), router, h.speaker, st)
	if err != nil {
		t.Fatal(err)
	}
	c.afterFunc = h.clock.AfterFunc
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// flush waits until every event queued so far has been processed.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	if err := h.c.call(func() {}); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) move(t *testing.T, p orb.Point) {
	t.Helper()
	h.c.UpdatePosition(at(p))
	h.flush(t)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var destination = route.Coord{Lat: finish.Lat(), Lng: finish.Lon()}

func offRoutePoint() orb.Point {
	return geometry.Destination(orb.Point{24.01, 49.85}, 0, 80)
}

// detour is the route a re-route from the off route point returns.
func detour() *route.Route {
	start := offRoutePoint()
	mid := orb.Point{24.02, start.Lat()}
	return &route.Route{
		Geometry: orb.LineString{start, mid, finish},
		Instructions: []route.Instruction{
			{Sign: route.Continue, ManeuverPoints: []orb.Point{start, mid}},
			{Sign: route.TurnLeft, ManeuverPoints: []orb.Point{mid, finish}},
			{Sign: route.Arrive, ManeuverPoints: []orb.Point{finish}},
		},
		TotalDistanceMeters: 1234,
	}
}

func TestLoadRouteFromCurrentLocation(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	s := h.c.Snapshot()
	if s.Phase() != Navigating || s.Progress.CurrentInstructionIndex != 0 || s.SessionID == "" {
		t.Fatalf("unexpected state %s %+v", s.Phase(), s.Progress)
	}

	rec := store.LoadNavigation(h.store)
	if !rec.IsNavigating || rec.Route == nil || rec.Destination == nil || *rec.Destination != destination {
		t.Errorf("navigation should be written through to the store: %+v", rec)
	}
}

func TestLoadRouteFromCurrentLocationNeedsPosition(t *testing.T) {
	h := newHarness(t, nil, nil)

	if err := h.c.LoadRoute(threeStepRoute(), destination, true); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("want ErrNoPosition, got %v", err)
	}
	s := h.c.Snapshot()
	if s.Phase() != Idle || s.Route != nil || s.SessionID != "" {
		t.Errorf("a rejected load must leave the engine idle, got %s", s.Phase())
	}
	if len(h.store.Keys()) != 0 {
		t.Errorf("nothing should be persisted, got %v", h.store.Keys())
	}

	// a preview needs no position
	if err := h.c.LoadRoute(threeStepRoute(), destination, false); err != nil {
		t.Fatal(err)
	}
	if h.c.Snapshot().Phase() != Preview {
		t.Errorf("want PREVIEW, got %s", h.c.Snapshot().Phase())
	}
}

func TestLoadRoutePreviewThenStart(t *testing.T) {
	h := newHarness(t, nil, nil)

	if err := h.c.LoadRoute(threeStepRoute(), destination, false); err != nil {
		t.Fatal(err)
	}
	if err := h.c.Start(); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("start without a position: want ErrNoPosition, got %v", err)
	}
	h.move(t, origin)
	if s := h.c.Snapshot(); s.Phase() != Preview {
		t.Fatalf("want PREVIEW, got %s", s.Phase())
	}
	if h.speaker.count(route.Continue) != 0 {
		t.Error("a preview must not speak")
	}

	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	s := h.c.Snapshot()
	if s.Phase() != Navigating {
		t.Fatalf("want NAVIGATING, got %s", s.Phase())
	}
	// the last known position is evaluated straight away
	if s.Progress.CurrentInstructionIndex != 1 || h.speaker.count(route.Continue) != 1 {
		t.Errorf("start should evaluate the last position: %+v", s.Progress)
	}
}

func TestMalformedRouteKeepsState(t *testing.T) {
	h := newHarness(t, nil, nil)
	good := threeStepRoute()
	if err := h.c.LoadRoute(good, destination, false); err != nil {
		t.Fatal(err)
	}

	bad := &route.Route{Geometry: orb.LineString{origin, corner}}
	err := h.c.LoadRoute(bad, destination, true)
	if !errors.Is(err, route.ErrMalformedRoute) {
		t.Fatalf("want ErrMalformedRoute, got %v", err)
	}

	s := h.c.Snapshot()
	if s.Phase() != Preview || s.Route.TotalDistanceMeters != good.TotalDistanceMeters {
		t.Errorf("previous route should stay active, got %s", s.Phase())
	}
	if s.Message != MsgNoRoute {
		t.Errorf("want message %q, got %q", MsgNoRoute, s.Message)
	}
}

func TestProgressAnnouncesOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}

	h.move(t, origin)
	h.move(t, origin)
	if n := h.speaker.count(route.Continue); n != 1 {
		t.Errorf("first instruction announced %d times", n)
	}

	h.move(t, geometry.Destination(corner, 270, 80))
	h.move(t, geometry.Destination(corner, 270, 60))
	if n := h.speaker.count(route.TurnLeft); n != 1 {
		t.Errorf("turn announced %d times", n)
	}
	if i := h.c.Snapshot().Progress.CurrentInstructionIndex; i != 1 {
		t.Errorf("want index 1 before the turn, got %d", i)
	}

	h.move(t, geometry.Destination(corner, 270, 20))
	if i := h.c.Snapshot().Progress.CurrentInstructionIndex; i != 2 {
		t.Fatalf("want index 2 after the turn, got %d", i)
	}
	if rec := store.LoadNavigation(h.store); rec.CurrentInstructionIndex != 2 {
		t.Errorf("persisted index: want 2, got %d", rec.CurrentInstructionIndex)
	}
}

func TestRerouteSingleFlight(t *testing.T) {
	router := &fakeRouter{results: make(chan routeResult)}
	h := newHarness(t, nil, router)
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	h.move(t, origin)

	off := offRoutePoint()
	h.move(t, off)
	h.move(t, off)
	h.move(t, geometry.Destination(off, 0, 10))

	eventually(t, "re-route request", func() bool { return len(router.Requests()) >= 1 })
	h.flush(t)
	if n := len(router.Requests()); n != 1 {
		t.Fatalf("want exactly one re-route request, got %d", n)
	}
	req := router.Requests()[0]
	if req.Destination != destination || geometry.Distance(req.Origin.Point(), off, geometry.Meters) > 0.01 {
		t.Errorf("unexpected request %+v", req)
	}
	s := h.c.Snapshot()
	if s.Phase() != Rerouting || !s.Progress.IsReRouting || s.Message != MsgRecalculating {
		t.Fatalf("want REROUTING while the request is in flight, got %s", s.Phase())
	}

	router.results <- routeResult{r: detour()}
	eventually(t, "route replacement", func() bool {
		return h.c.Snapshot().Route.TotalDistanceMeters == detour().TotalDistanceMeters
	})

	s = h.c.Snapshot()
	if s.Phase() != Navigating || s.Progress.IsReRouting {
		t.Errorf("want NAVIGATING after re-route, got %s", s.Phase())
	}
	if !s.Progress.CoolingDown || h.clock.pending() != 1 {
		t.Errorf("a successful re-route starts one cool-down timer, pending %d", h.clock.pending())
	}
	// progress restarts on the new route, which begins right here
	if s.Progress.CurrentInstructionIndex != 1 || !s.Progress.Announced[0] {
		t.Errorf("progress should restart on the new route: %+v", s.Progress)
	}
	if rec := store.LoadNavigation(h.store); rec.Route == nil || rec.Route.TotalDistanceMeters != detour().TotalDistanceMeters {
		t.Error("new route should be persisted")
	}

	h.clock.fire()
	eventually(t, "cool-down to expire", func() bool { return !h.c.Snapshot().Progress.CoolingDown })
}

func TestRerouteFailureBounded(t *testing.T) {
	router := &fakeRouter{err: routing.ErrUpstream}
	h := newHarness(t, nil, router)
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	h.move(t, origin)

	off := offRoutePoint()
	h.move(t, off)

	limit := DefaultConfig().MaxRerouteAttempts
	for i := 1; i <= limit; i++ {
		eventually(t, "re-route failure", func() bool { return h.c.Snapshot().Progress.RerouteFailures == i })
		s := h.c.Snapshot()
		if !s.StaleRoute || !s.Progress.IsReRouting {
			t.Fatalf("failure %d: stale route should stay active with re-routing held", i)
		}
		if s.Route.TotalDistanceMeters != threeStepRoute().TotalDistanceMeters {
			t.Fatal("failed re-route must keep the previous route")
		}

		// samples during the cool-down do not retry
		h.move(t, off)
		if n := len(router.Requests()); n != i {
			t.Fatalf("want %d requests during cool-down, got %d", i, n)
		}
		if h.clock.pending() != 1 {
			t.Fatalf("want a single pending cool-down timer, got %d", h.clock.pending())
		}
		h.clock.fire()
	}

	eventually(t, "re-routing to clear", func() bool { return !h.c.Snapshot().Progress.IsReRouting })
	h.move(t, off)
	h.move(t, off)
	if n := len(router.Requests()); n != limit {
		t.Fatalf("retries should stop at %d, got %d", limit, n)
	}

	// back within tolerance the budget is restored
	h.move(t, geometry.Destination(corner, 270, 500))
	s := h.c.Snapshot()
	if s.Progress.RerouteFailures != 0 || s.StaleRoute {
		t.Errorf("failures should reset once back on route: %+v", s.Progress)
	}
	h.move(t, off)
	eventually(t, "a fresh re-route", func() bool { return len(router.Requests()) == limit+1 })
}

func TestCancelDiscardsLateReroute(t *testing.T) {
	router := &fakeRouter{results: make(chan routeResult), ignoreCtx: true}
	h := newHarness(t, nil, router)
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	h.move(t, origin)
	h.move(t, offRoutePoint())
	eventually(t, "re-route request", func() bool { return len(router.Requests()) == 1 })

	cancelsBefore := h.speaker.cancels
	if err := h.c.Cancel(); err != nil {
		t.Fatal(err)
	}
	if h.speaker.cancels <= cancelsBefore {
		t.Error("cancel should stop pending speech")
	}

	router.results <- routeResult{r: detour()}
	for i := 0; i < 20; i++ {
		h.flush(t)
		time.Sleep(time.Millisecond)
		if s := h.c.Snapshot(); s.Phase() != Idle || s.Route != nil {
			t.Fatalf("late re-route result reactivated navigation: %s", s.Phase())
		}
	}
	if rec := store.LoadNavigation(h.store); rec.Route != nil || rec.IsNavigating {
		t.Errorf("cancel must release the persisted record: %+v", rec)
	}
	if h.clock.pending() != 0 {
		t.Error("cancel should leave no timers behind")
	}
}

func driveToArrival(t *testing.T, h *harness) {
	t.Helper()
	h.move(t, origin)
	h.move(t, geometry.Destination(corner, 270, 20))
	h.move(t, geometry.Destination(finish, 180, 10))
}

func TestArrival(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	driveToArrival(t, h)

	eventually(t, "arrival", func() bool { return h.c.Snapshot().Phase() == Arrived })
	s := h.c.Snapshot()
	if s.Progress.IsNavigating || s.Progress.CurrentInstructionIndex != 0 {
		t.Errorf("arrival should stop navigating and reset the index: %+v", s.Progress)
	}
	if s.Route == nil || s.Destination == nil {
		t.Fatal("route and destination stay until the arrival is dismissed")
	}

	for i := 0; i < 3; i++ {
		h.move(t, finish)
	}
	if n := h.speaker.count(route.Arrive); n != 1 {
		t.Errorf("arrival announced %d times", n)
	}
	if h.c.Snapshot().Phase() != Arrived {
		t.Error("samples after arrival must not re-enter navigation")
	}
	rec := store.LoadNavigation(h.store)
	if rec.IsNavigating || rec.Route == nil || rec.CurrentInstructionIndex != 0 {
		t.Errorf("unexpected persisted record after arrival: %+v", rec)
	}

	if err := h.c.DismissArrival(); err != nil {
		t.Fatal(err)
	}
	s = h.c.Snapshot()
	if s.Phase() != Idle || s.Destination != nil {
		t.Errorf("dismiss should clear everything, got %s", s.Phase())
	}
	if len(h.store.Keys()) != 0 {
		t.Errorf("dismiss should delete the persisted keys, left %v", h.store.Keys())
	}
}

func TestArrivalSurvivesReload(t *testing.T) {
	st := store.NewMemoryStore()
	h := newHarness(t, st, nil)
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	driveToArrival(t, h)
	eventually(t, "arrival", func() bool { return h.c.Snapshot().Phase() == Arrived })
	if rec := store.LoadNavigation(st); !rec.Arrived || rec.IsNavigating {
		t.Fatalf("arrival should be persisted: %+v", rec)
	}

	reloaded := newHarness(t, st, nil)
	s := reloaded.c.Snapshot()
	if s.Phase() != Arrived || s.ResumePending {
		t.Fatalf("want ARRIVED without a resume prompt after reload, got %s resume=%v", s.Phase(), s.ResumePending)
	}
	if s.Route == nil || s.Destination == nil || *s.Destination != destination {
		t.Fatal("route and destination should be restored with the arrival")
	}

	reloaded.move(t, finish)
	if n := reloaded.speaker.count(route.Arrive); n != 0 {
		t.Errorf("a restored arrival must not be announced again, got %d", n)
	}

	if err := reloaded.c.DismissArrival(); err != nil {
		t.Fatal(err)
	}
	if reloaded.c.Snapshot().Phase() != Idle {
		t.Errorf("dismiss should end the restored arrival, got %s", reloaded.c.Snapshot().Phase())
	}
	if len(st.Keys()) != 0 {
		t.Errorf("dismiss should delete the persisted keys, left %v", st.Keys())
	}
}

func TestArrivalWaitsForSpeech(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.speaker.mu.Lock()
	h.speaker.hold = true
	h.speaker.mu.Unlock()
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	driveToArrival(t, h)

	s := h.c.Snapshot()
	if s.Phase() != Navigating || !s.Progress.ArrivalAnnounced {
		t.Fatalf("arrival completes only once spoken, got %s", s.Phase())
	}

	h.speaker.release()
	eventually(t, "arrival", func() bool { return h.c.Snapshot().Phase() == Arrived })
}

func TestDismissIgnoredWhileNavigating(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.move(t, origin)
	if err := h.c.LoadRoute(threeStepRoute(), destination, true); err != nil {
		t.Fatal(err)
	}
	if err := h.c.DismissArrival(); err != nil {
		t.Fatal(err)
	}
	if h.c.Snapshot().Phase() != Navigating {
		t.Error("dismiss outside ARRIVED should be a no-op")
	}
}

func TestDegenerateRouteArrives(t *testing.T) {
	h := newHarness(t, nil, nil)
	p := orb.Point{24.03, 49.84}
	r := &route.Route{
		Geometry:     orb.LineString{p},
		Instructions: []route.Instruction{{Sign: route.Arrive, ManeuverPoints: []orb.Point{p}}},
	}

	h.move(t, geometry.Destination(p, 0, 3000))
	if err := h.c.LoadRoute(r, route.CoordFromPoint(p), true); err != nil {
		t.Fatal(err)
	}
	eventually(t, "arrival", func() bool { return h.c.Snapshot().Phase() == Arrived })
	if n := len(h.router.Requests()); n != 0 {
		t.Errorf("degenerate route must never re-route, got %d requests", n)
	}
}

func persistedNavigation(t *testing.T, navigating bool, index int) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	dest := destination
	err := store.SaveNavigation(st, store.Record{
		IsNavigating:            navigating,
		Route:                   threeStepRoute(),
		Destination:             &dest,
		CurrentInstructionIndex: index,
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestResumeGate(t *testing.T) {
	t.Run("continue", func(t *testing.T) {
		h := newHarness(t, persistedNavigation(t, true, 1), nil)

		s := h.c.Snapshot()
		if !s.ResumePending || s.Progress.CurrentInstructionIndex != 1 {
			t.Fatalf("restored navigation should wait behind the resume gate: %+v", s)
		}

		h.move(t, geometry.Destination(corner, 270, 20))
		if h.speaker.count(route.TurnLeft) != 0 || h.c.Snapshot().Progress.CurrentInstructionIndex != 1 {
			t.Fatal("no evaluation may run before the user confirms")
		}

		if err := h.c.Resume(true); err != nil {
			t.Fatal(err)
		}
		s = h.c.Snapshot()
		if s.ResumePending || s.Phase() != Navigating {
			t.Fatalf("want NAVIGATING after resume, got %s", s.Phase())
		}
		if s.Progress.CurrentInstructionIndex != 2 || h.speaker.count(route.TurnLeft) != 1 {
			t.Errorf("resume should evaluate with the restored progress: %+v", s.Progress)
		}
	})

	t.Run("end", func(t *testing.T) {
		st := persistedNavigation(t, true, 1)
		h := newHarness(t, st, nil)
		if err := h.c.Resume(false); err != nil {
			t.Fatal(err)
		}
		if h.c.Snapshot().Phase() != Idle {
			t.Error("declining resume should end navigation")
		}
		if len(st.Keys()) != 0 {
			t.Errorf("persisted keys left behind: %v", st.Keys())
		}
	})

	t.Run("preview restored without gate", func(t *testing.T) {
		h := newHarness(t, persistedNavigation(t, false, 0), nil)
		s := h.c.Snapshot()
		if s.ResumePending || s.Phase() != Preview {
			t.Errorf("want PREVIEW without a prompt, got %s resume=%v", s.Phase(), s.ResumePending)
		}
	})

	t.Run("corrupt store", func(t *testing.T) {
		st := store.NewMemoryStore()
		st.Set(store.KeyIsNavigating, []byte("true"))
		st.Set(store.KeyCurrentRoute, []byte("{not json"))
		h := newHarness(t, st, nil)
		s := h.c.Snapshot()
		if s.Phase() != Idle || s.ResumePending {
			t.Errorf("corrupt route should be treated as absent, got %s", s.Phase())
		}
	})
}

func TestPlanRoute(t *testing.T) {
	t.Run("needs a position", func(t *testing.T) {
		h := newHarness(t, nil, &fakeRouter{route: threeStepRoute()})
		if err := h.c.PlanRoute(context.Background(), nil, destination); !errors.Is(err, ErrNoPosition) {
			t.Fatalf("want ErrNoPosition, got %v", err)
		}
		if h.c.Snapshot().Phase() != Idle {
			t.Error("without a position navigation cannot start")
		}
	})

	t.Run("from current location", func(t *testing.T) {
		router := &fakeRouter{route: threeStepRoute()}
		h := newHarness(t, nil, router)
		h.move(t, origin)
		if err := h.c.PlanRoute(context.Background(), nil, destination); err != nil {
			t.Fatal(err)
		}
		if h.c.Snapshot().Phase() != Navigating {
			t.Errorf("want NAVIGATING, got %s", h.c.Snapshot().Phase())
		}
		req := router.Requests()[0]
		if req.Origin != route.CoordFromPoint(origin) || req.Language != "en" {
			t.Errorf("unexpected request %+v", req)
		}
	})

	t.Run("explicit origin previews", func(t *testing.T) {
		h := newHarness(t, nil, &fakeRouter{route: threeStepRoute()})
		from := route.CoordFromPoint(origin)
		if err := h.c.PlanRoute(context.Background(), &from, destination); err != nil {
			t.Fatal(err)
		}
		if h.c.Snapshot().Phase() != Preview {
			t.Errorf("want PREVIEW, got %s", h.c.Snapshot().Phase())
		}
	})

	t.Run("routing failure", func(t *testing.T) {
		h := newHarness(t, nil, &fakeRouter{err: routing.ErrNoRoute})
		from := route.CoordFromPoint(origin)
		if err := h.c.PlanRoute(context.Background(), &from, destination); !errors.Is(err, routing.ErrNoRoute) {
			t.Fatalf("want ErrNoRoute, got %v", err)
		}
		s := h.c.Snapshot()
		if s.Phase() != Idle || s.Message != MsgNoRoute {
			t.Errorf("failure should surface a message: %s %q", s.Phase(), s.Message)
		}
	})
}

func TestSettings(t *testing.T) {
	h := newHarness(t, nil, nil)

	if err := h.c.SetMuted(true); err != nil {
		t.Fatal(err)
	}
	if err := h.c.SetLanguage("uk-UA"); err != nil {
		t.Fatal(err)
	}
	if err := h.c.SetUnits(route.Imperial); err != nil {
		t.Fatal(err)
	}
	if err := h.c.SetUnits("furlongs"); err == nil {
		t.Error("unknown units should be rejected")
	}

	s := h.c.Snapshot()
	if !s.Muted || s.Language != "uk" || s.Units != route.Imperial {
		t.Errorf("unexpected settings %+v", s)
	}
	if !h.speaker.muted {
		t.Error("mute should reach the speaker")
	}
}

func TestSubscribeAndSnapshotIsolation(t *testing.T) {
	h := newHarness(t, nil, nil)

	phases := make(chan Phase, 16)
	h.c.Subscribe(func(s State) {
		select {
		case phases <- s.Phase():
		default:
		}
	})

	if err := h.c.LoadRoute(threeStepRoute(), destination, false); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-phases:
		if p != Preview {
			t.Errorf("want PREVIEW, got %s", p)
		}
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}

	s := h.c.Snapshot()
	s.Route.Instructions[0].Text = "changed"
	s.Progress.Announced[7] = true
	again := h.c.Snapshot()
	if again.Route.Instructions[0].Text == "changed" || again.Progress.Announced[7] {
		t.Error("snapshots must be independent copies")
	}
}

func TestTrackFeed(t *testing.T) {
	h := newHarness(t, nil, nil)
	feed := geolocation.NewFeed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.c.Track(ctx, feed)

	eventually(t, "position from the feed", func() bool {
		feed.Push(at(origin))
		return h.c.Snapshot().Position != nil
	})

	eventually(t, "geolocation error", func() bool {
		feed.PushError(geolocation.ErrPermissionDenied)
		return h.c.Snapshot().GeolocationError != ""
	})
	if h.c.Snapshot().Phase() != Idle {
		t.Error("geolocation errors must not change navigation state")
	}
}

func TestStoppedCoordinator(t *testing.T) {
	c, err := NewCoordinator(DefaultConfig(), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := c.Cancel(); !errors.Is(err, ErrStopped) {
		t.Errorf("want ErrStopped, got %v", err)
	}
}

func TestNewCoordinatorRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RerouteTolerance = 80
	if _, err := NewCoordinator(cfg, nil, nil, nil); err == nil {
		t.Error("tolerance outside 30-50m should be rejected")
	}
}
