package geolocation

import (
	"context"
	"time"

	"github.com/curbz/yamka/pkg/geometry"
	"github.com/paulmach/orb"
)

// Replay simulates a device driving along a track at constant speed.
type Replay struct {
	Track    orb.LineString
	SpeedMPS float64
	Interval time.Duration
	Accuracy float64
	Loop     bool

	now func() time.Time
}

func NewReplay(track orb.LineString, speedMPS float64, interval time.Duration) *Replay {
	if speedMPS <= 0 {
		speedMPS = 12
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Replay{
		Track:    track,
		SpeedMPS: speedMPS,
		Interval: interval,
		Accuracy: 5,
		now:      time.Now,
	}
}

// Samples returns the positions the replay emits, one per interval. The last
// vertex of the track is always included.
func (r *Replay) Samples() []Position {
	if len(r.Track) == 0 {
		return nil
	}
	step := r.SpeedMPS * r.Interval.Seconds()

	var out []Position
	heading := 0.0
	emit := func(p orb.Point) {
		h := heading
		out = append(out, Position{Lat: p.Lat(), Lng: p.Lon(), Heading: &h, Accuracy: r.Accuracy})
	}

	if len(r.Track) > 1 {
		heading = geometry.Bearing(r.Track[0], r.Track[1])
	}
	emit(r.Track[0])

	// distances are measured along the track from its first vertex
	travelled, next := 0.0, step
	for i := 1; i < len(r.Track); i++ {
		a, b := r.Track[i-1], r.Track[i]
		segLen := geometry.Distance(a, b, geometry.Meters)
		if segLen == 0 {
			continue
		}
		heading = geometry.Bearing(a, b)
		for next < travelled+segLen-1e-6 {
			emit(geometry.Interpolate(a, b, (next-travelled)/segLen))
			next += step
		}
		travelled += segLen
	}

	final := r.Track[len(r.Track)-1]
	if last := out[len(out)-1]; last.Point() != final {
		emit(final)
	}
	return out
}

func (r *Replay) stamp(p Position) Position {
	p.Timestamp = r.now().UnixMilli()
	return p
}

func (r *Replay) CurrentPosition(ctx context.Context, opts WatchOptions) (Position, error) {
	samples := r.Samples()
	if len(samples) == 0 {
		return Position{}, NewError(PositionUnavailable, "empty track")
	}
	return r.stamp(samples[0]), nil
}

func (r *Replay) Watch(ctx context.Context, opts WatchOptions) (<-chan Position, <-chan error) {
	positions := make(chan Position, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(positions)
		defer close(errs)

		samples := r.Samples()
		if len(samples) == 0 {
			errs <- NewError(PositionUnavailable, "empty track")
			<-ctx.Done()
			return
		}

		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()

		i := 0
		for {
			select {
			case positions <- r.stamp(samples[i]):
			case <-ctx.Done():
				return
			}
			i++
			if i == len(samples) {
				if !r.Loop {
					<-ctx.Done()
					return
				}
				i = 0
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return positions, errs
}
