package geolocation

import (
	"context"
	"errors"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/curbz/yamka/internal/mockserver"
	"github.com/curbz/yamka/pkg/geometry"
	"github.com/paulmach/orb"
)

func TestErrorIs(t *testing.T) {
	err := NewError(PermissionDenied, "user said no")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("code match should satisfy errors.Is")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("different codes must not match")
	}
	if !strings.Contains(err.Error(), "permission denied") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestPositionValid(t *testing.T) {
	tests := []struct {
		name string
		p    Position
		want bool
	}{
		{"ok", Position{Lat: 49.85, Lng: 24.02, Accuracy: 5}, true},
		{"bad latitude", Position{Lat: 91, Lng: 24.02}, false},
		{"nan", Position{Lat: math.NaN(), Lng: 24.02}, false},
		{"negative accuracy", Position{Lat: 49.85, Lng: 24.02, Accuracy: -1}, false},
	}
	for _, tc := range tests {
		if got := tc.p.Valid(); got != tc.want {
			t.Errorf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
	p := Position{Lat: 49.85, Lng: 24.02}
	if p.Point() != (orb.Point{24.02, 49.85}) {
		t.Errorf("point must be lng,lat: %v", p.Point())
	}
}

func TestFeedWatch(t *testing.T) {
	f := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())

	positions, errs := f.Watch(ctx, DefaultWatchOptions)

	if err := f.Push(Position{Lat: 49.85, Lng: 24.02}); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-positions:
		if p.Lat != 49.85 {
			t.Errorf("unexpected position %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no position delivered")
	}

	f.PushError(ErrPermissionDenied)
	select {
	case err := <-errs:
		if !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error delivered")
	}

	if err := f.Push(Position{Lat: 200}); err == nil {
		t.Error("invalid position should be rejected")
	}

	cancel()
	select {
	case _, ok := <-positions:
		if ok {
			t.Error("channel should be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestFeedKeepsLatest(t *testing.T) {
	f := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	positions, _ := f.Watch(ctx, DefaultWatchOptions)
	for i := 0; i < 5; i++ {
		f.Push(Position{Lat: 49.80 + float64(i)*0.01, Lng: 24.02})
	}
	p := <-positions
	if math.Abs(p.Lat-49.84) > 1e-9 {
		t.Errorf("slow watcher should see the latest sample, got %v", p.Lat)
	}
}

func TestFeedCurrentPosition(t *testing.T) {
	t.Run("maximum age zero waits for a fresh fix", func(t *testing.T) {
		f := NewFeed()
		f.Push(Position{Lat: 1, Lng: 1})

		go func() {
			time.Sleep(20 * time.Millisecond)
			f.Push(Position{Lat: 2, Lng: 2})
		}()
		p, err := f.CurrentPosition(context.Background(), WatchOptions{Timeout: time.Second})
		if err != nil {
			t.Fatal(err)
		}
		if p.Lat != 2 {
			t.Errorf("want fresh fix, got %+v", p)
		}
	})

	t.Run("cached fix within maximum age", func(t *testing.T) {
		f := NewFeed()
		f.Push(Position{Lat: 1, Lng: 1})
		p, err := f.CurrentPosition(context.Background(), WatchOptions{MaximumAge: time.Minute})
		if err != nil || p.Lat != 1 {
			t.Fatalf("want cached fix, got %+v (%v)", p, err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		f := NewFeed()
		_, err := f.CurrentPosition(context.Background(), WatchOptions{Timeout: 20 * time.Millisecond})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("want ErrTimeout, got %v", err)
		}
	})
}

func TestFeedWatchTimeout(t *testing.T) {
	f := NewFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, errs := f.Watch(ctx, WatchOptions{Timeout: 20 * time.Millisecond})
	select {
	case err := <-errs:
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("want ErrTimeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no timeout reported")
	}
}

func testTrack() orb.LineString {
	start := orb.Point{24.00, 49.85}
	corner := geometry.Destination(start, 90, 100)
	end := geometry.Destination(corner, 0, 50)
	return orb.LineString{start, corner, end}
}

func TestReplaySamples(t *testing.T) {
	track := testTrack()
	r := NewReplay(track, 10, time.Second)

	samples := r.Samples()
	// 150m at 10m per sample plus the start point
	if len(samples) != 16 {
		t.Fatalf("want 16 samples, got %d", len(samples))
	}
	if samples[0].Point() != track[0] || samples[len(samples)-1].Point() != track[2] {
		t.Error("replay should start and end on the track endpoints")
	}
	for i := 1; i < len(samples); i++ {
		d := geometry.Distance(samples[i-1].Point(), samples[i].Point(), geometry.Meters)
		if d > 10.01 {
			t.Errorf("sample %d jumped %.2fm", i, d)
		}
		if geometry.PointToLineDistance(samples[i].Point(), track, geometry.Meters) > 0.5 {
			t.Errorf("sample %d left the track", i)
		}
	}
	if h := *samples[3].Heading; math.Abs(h-90) > 0.5 {
		t.Errorf("heading on first leg: want ~90, got %.2f", h)
	}
	if h := *samples[14].Heading; math.Abs(h) > 0.5 && math.Abs(h-360) > 0.5 {
		t.Errorf("heading on second leg: want ~0, got %.2f", h)
	}
}

func TestReplayWatch(t *testing.T) {
	r := NewReplay(testTrack(), 2000, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	positions, _ := r.Watch(ctx, DefaultWatchOptions)
	want := len(r.Samples())
	got := 0
	timeout := time.After(2 * time.Second)
	for got < want {
		select {
		case p := <-positions:
			if p.Timestamp == 0 {
				t.Error("replayed positions should be timestamped")
			}
			got++
		case <-timeout:
			t.Fatalf("received %d of %d samples", got, want)
		}
	}

	p, err := r.CurrentPosition(ctx, DefaultWatchOptions)
	if err != nil || p.Point() != testTrack()[0] {
		t.Errorf("current position: %+v (%v)", p, err)
	}
}

func TestReplayEmptyTrack(t *testing.T) {
	r := NewReplay(nil, 10, time.Second)
	if _, err := r.CurrentPosition(context.Background(), DefaultWatchOptions); !errors.Is(err, ErrPositionUnavailable) {
		t.Errorf("want ErrPositionUnavailable, got %v", err)
	}
}

func TestWSClient(t *testing.T) {
	mock := mockserver.New()
	mock.Track = testTrack()
	mock.Interval = 5 * time.Millisecond
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/positions"
	c := NewWSClient(url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	positions, errs := c.Watch(ctx, DefaultWatchOptions)
	var got []Position
	for len(got) < len(mock.Track) {
		select {
		case p, ok := <-positions:
			if !ok {
				t.Fatalf("feed closed after %d positions", len(got))
			}
			got = append(got, p)
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		case <-ctx.Done():
			t.Fatalf("received %d of %d positions", len(got), len(mock.Track))
		}
	}
	for i, p := range got {
		if geometry.Distance(p.Point(), mock.Track[i], geometry.Meters) > 0.01 {
			t.Errorf("position %d: want %v, got %v", i, mock.Track[i], p.Point())
		}
	}
}

func TestWSClientUnreachable(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1/nothing")
	_, err := c.CurrentPosition(context.Background(), WatchOptions{Timeout: time.Second})
	if !errors.Is(err, ErrPositionUnavailable) {
		t.Fatalf("want ErrPositionUnavailable, got %v", err)
	}
}
