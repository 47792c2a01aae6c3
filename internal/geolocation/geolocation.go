package geolocation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/curbz/yamka/internal/route"
	"github.com/paulmach/orb"
)

// Position is one device location sample.
type Position struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Heading  *float64 `json:"heading,omitempty"`
	Accuracy float64  `json:"accuracy"`
	// Timestamp is unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

func (p Position) Point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

func (p Position) Coord() route.Coord {
	return route.Coord{Lat: p.Lat, Lng: p.Lng}
}

func (p Position) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Valid reports whether the sample carries a usable coordinate.
func (p Position) Valid() bool {
	if math.IsNaN(p.Accuracy) || p.Accuracy < 0 {
		return false
	}
	return p.Coord().Valid()
}

// WatchOptions mirrors the browser geolocation options.
type WatchOptions struct {
	HighAccuracy bool
	// MaximumAge is how old a cached fix may be; zero never serves a cached
	// fix.
	MaximumAge time.Duration
	// Timeout bounds the wait for each fix; zero waits forever.
	Timeout time.Duration
}

// DefaultWatchOptions are the options used while navigating.
var DefaultWatchOptions = WatchOptions{HighAccuracy: true}

// Source delivers device positions.
type Source interface {
	// CurrentPosition returns a single fix.
	CurrentPosition(ctx context.Context, opts WatchOptions) (Position, error)
	// Watch streams fixes until ctx is done, then closes both channels.
	Watch(ctx context.Context, opts WatchOptions) (<-chan Position, <-chan error)
}

// ErrorCode values match the browser GeolocationPositionError codes.
type ErrorCode int

const (
	PermissionDenied    ErrorCode = 1
	PositionUnavailable ErrorCode = 2
	Timeout             ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission denied"
	case PositionUnavailable:
		return "position unavailable"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("error %d", int(c))
}

// Error is a geolocation failure. Errors compare equal under errors.Is when
// their codes match.
type Error struct {
	Code    ErrorCode
	Message string
}

var (
	ErrPermissionDenied    = Error{Code: PermissionDenied}
	ErrPositionUnavailable = Error{Code: PositionUnavailable}
	ErrTimeout             = Error{Code: Timeout}
)

func NewError(code ErrorCode, msg string) Error {
	return Error{Code: code, Message: msg}
}

func (e Error) Error() string {
	if e.Message == "" {
		return "geolocation: " + e.Code.String()
	}
	return "geolocation: " + e.Code.String() + ": " + e.Message
}

func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code == e.Code
}
