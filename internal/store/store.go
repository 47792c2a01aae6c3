package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/curbz/yamka/internal/route"
	log "github.com/sirupsen/logrus"
)

// Keys of the navigation-resume record.
const (
	KeyIsNavigating            = "isNavigating"
	KeyCurrentRoute            = "currentRoute"
	KeyDestinationCoords       = "destinationCoords"
	KeyCurrentInstructionIndex = "currentInstructionIndex"
	KeyArrived                 = "arrived"
)

var navigationKeys = []string{
	KeyIsNavigating,
	KeyCurrentRoute,
	KeyDestinationCoords,
	KeyCurrentInstructionIndex,
	KeyArrived,
}

// ErrNotFound is returned by Get for keys that were never set or have been
// deleted.
var ErrNotFound = errors.New("key not found")

// Store is a durable key/value store holding JSON values.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Record is the navigation state that survives a reload.
type Record struct {
	IsNavigating            bool
	Route                   *route.Route
	Destination             *route.Coord
	CurrentInstructionIndex int
	// Arrived is set once the arrival was spoken and not yet dismissed.
	Arrived bool
}

// LoadNavigation reads the navigation record. Missing or unparsable values
// fall back to their zero value; a corrupted store never fails a load.
func LoadNavigation(s Store) Record {
	var rec Record

	getJSON(s, KeyIsNavigating, &rec.IsNavigating)
	getJSON(s, KeyCurrentInstructionIndex, &rec.CurrentInstructionIndex)
	getJSON(s, KeyArrived, &rec.Arrived)

	var r route.Route
	if getJSON(s, KeyCurrentRoute, &r) {
		if err := r.Validate(); err != nil {
			log.Warnf("store: discarding persisted route: %v", err)
		} else {
			rec.Route = &r
		}
	}

	var dest route.Coord
	if getJSON(s, KeyDestinationCoords, &dest) && dest.Valid() {
		rec.Destination = &dest
	}

	if rec.CurrentInstructionIndex < 0 {
		rec.CurrentInstructionIndex = 0
	}
	if rec.Route != nil && rec.CurrentInstructionIndex >= len(rec.Route.Instructions) {
		rec.CurrentInstructionIndex = len(rec.Route.Instructions) - 1
	}
	if rec.Route == nil {
		rec.IsNavigating = false
		rec.Arrived = false
		rec.CurrentInstructionIndex = 0
	}
	if rec.Arrived {
		rec.IsNavigating = false
	}
	return rec
}

// SaveNavigation writes every key of the record. A nil route or destination
// deletes the corresponding key, as does a false arrival marker.
func SaveNavigation(s Store, rec Record) error {
	if err := setJSON(s, KeyIsNavigating, rec.IsNavigating); err != nil {
		return err
	}
	if !rec.Arrived {
		if err := deleteKey(s, KeyArrived); err != nil {
			return err
		}
	} else if err := setJSON(s, KeyArrived, true); err != nil {
		return err
	}
	if err := setJSON(s, KeyCurrentInstructionIndex, rec.CurrentInstructionIndex); err != nil {
		return err
	}
	if rec.Route == nil {
		if err := deleteKey(s, KeyCurrentRoute); err != nil {
			return err
		}
	} else if err := setJSON(s, KeyCurrentRoute, rec.Route); err != nil {
		return err
	}
	if rec.Destination == nil {
		return deleteKey(s, KeyDestinationCoords)
	}
	return setJSON(s, KeyDestinationCoords, rec.Destination)
}

// ClearNavigation removes the whole record.
func ClearNavigation(s Store) error {
	for _, k := range navigationKeys {
		if err := deleteKey(s, k); err != nil {
			return err
		}
	}
	return nil
}

func getJSON(s Store, key string, v interface{}) bool {
	data, err := s.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warnf("store: failed to read %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warnf("store: ignoring corrupt value for %s: %v", key, err)
		return false
	}
	return true
}

func setJSON(s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: failed to encode %s: %w", key, err)
	}
	if err := s.Set(key, data); err != nil {
		return fmt.Errorf("store: failed to write %s: %w", key, err)
	}
	return nil
}

func deleteKey(s Store, key string) error {
	if err := s.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("store: failed to delete %s: %w", key, err)
	}
	return nil
}
