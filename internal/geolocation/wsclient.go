package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/curbz/yamka/pkg/util"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WSClient reads positions from an external websocket GPS feed. The feed
// speaks a small request/response protocol: the client subscribes and the
// server pushes position_update messages.
type WSClient struct {
	URL string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func NewWSClient(url string) *WSClient {
	return &WSClient{URL: url}
}

var requestCounter atomic.Int64

type subscriptionRequest struct {
	RequestID int64              `json:"req_id"`
	Type      string             `json:"type"`
	Params    subscriptionParams `json:"params"`
}

type subscriptionParams struct {
	HighAccuracy bool  `json:"high_accuracy"`
	MaximumAgeMs int64 `json:"maximum_age_ms"`
}

type feedMessage struct {
	RequestID int64           `json:"req_id"`
	Type      string          `json:"type"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
}

type feedError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *WSClient) CurrentPosition(ctx context.Context, opts WatchOptions) (Position, error) {
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	positions, errs := c.Watch(ctx, opts)
	for {
		select {
		case p, ok := <-positions:
			if ok {
				return p, nil
			}
			positions = nil
		case err, ok := <-errs:
			if ok {
				return Position{}, err
			}
			errs = nil
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return Position{}, NewError(Timeout, "no fix within timeout")
			}
			return Position{}, ctx.Err()
		}
	}
}

// Watch connects, subscribes and streams positions. Connection failures are
// reported as PositionUnavailable.
func (c *WSClient) Watch(ctx context.Context, opts WatchOptions) (<-chan Position, <-chan error) {
	positions := make(chan Position, 1)
	errs := make(chan error, 4)

	go func() {
		defer close(positions)
		defer close(errs)

		dialer := c.Dialer
		if dialer == nil {
			dialer = websocket.DefaultDialer
		}
		conn, _, err := dialer.DialContext(ctx, c.URL, nil)
		if err != nil {
			errs <- NewError(PositionUnavailable, fmt.Sprintf("could not connect to %s: %v", c.URL, err))
			return
		}
		defer conn.Close()
		log.Println("geolocation: websocket connection established")

		// unblock the reader when the caller goes away
		go func() {
			<-ctx.Done()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}()

		reqID := requestCounter.Add(1)
		err = util.SendJSON(conn, subscriptionRequest{
			RequestID: reqID,
			Type:      "position_subscribe",
			Params: subscriptionParams{
				HighAccuracy: opts.HighAccuracy,
				MaximumAgeMs: opts.MaximumAge.Milliseconds(),
			},
		})
		if err != nil {
			errs <- NewError(PositionUnavailable, err.Error())
			return
		}
		log.Debugf("-> Sent Request ID %d: subscribing to positions", reqID)

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Println("geolocation: connection closed")
					return
				}
				select {
				case errs <- NewError(PositionUnavailable, err.Error()):
				default:
				}
				return
			}
			c.processMessage(ctx, message, positions, errs)
		}
	}()

	return positions, errs
}

func (c *WSClient) processMessage(ctx context.Context, message []byte, positions chan Position, errs chan error) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Warnf("geolocation: error unmarshaling message: %v. Raw: %s", err, string(message))
		return
	}

	switch msg.Type {
	case "position_update":
		var p Position
		if err := json.Unmarshal(msg.Data, &p); err != nil || !p.Valid() {
			log.Warnf("geolocation: discarding bad position update: %s", string(msg.Data))
			return
		}
		select {
		case positions <- p:
		case <-ctx.Done():
		}
	case "position_error":
		var fe feedError
		_ = json.Unmarshal(msg.Data, &fe)
		select {
		case errs <- NewError(ErrorCode(fe.Code), fe.Message):
		default:
		}
	case "result":
		if msg.Success {
			log.Debugf("<- Received Response ID %d: Success", msg.RequestID)
		} else {
			log.Warnf("<- Received Response ID %d: Failure", msg.RequestID)
		}
	default:
		log.Debugf("[UNKNOWN] Req ID %d, Type: %s, Payload: %s", msg.RequestID, msg.Type, string(message))
	}
}
