package geofence

import (
	"time"

	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/logger"
)

// ContainmentStore is the part of Store the detector reads and updates
type ContainmentStore interface {
	List() []Geofence
	SetContainment(id string, inside bool) (bool, error)
}

// TransitionRecorder receives a count of each transition kind
type TransitionRecorder interface {
	RecordTransition(kind string)
}

// Evaluate compares sample against every fence in list order, updates the
// stored containment and returns the boundary crossings it observed.
// A fence removed concurrently is skipped.
func Evaluate(sample geo.Sample, store ContainmentStore) []Transition {
	at := sample.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	var transitions []Transition
	for _, g := range store.List() {
		inside := g.Contains(sample.Coordinate)
		prev, err := store.SetContainment(g.ID, inside)
		if err != nil {
			continue
		}

		var kind Kind
		switch {
		case !prev && inside:
			kind = Arrival
		case prev && !inside:
			kind = Departure
		default:
			continue
		}

		g.Inside = inside
		transitions = append(transitions, Transition{Geofence: g, Kind: kind, OccurredAt: at})
	}
	return transitions
}

// Detector runs Evaluate against a store and reports what it found
type Detector struct {
	store    ContainmentStore
	log      logger.Logger
	recorder TransitionRecorder
}

// NewDetector creates a detector over store. recorder may be nil.
func NewDetector(store ContainmentStore, log logger.Logger, recorder TransitionRecorder) *Detector {
	if log == nil {
		log = logger.Global().Module("geofence")
	}
	return &Detector{store: store, log: log, recorder: recorder}
}

// Process evaluates one sample
func (d *Detector) Process(sample geo.Sample) []Transition {
	transitions := Evaluate(sample, d.store)
	for i := range transitions {
		t := &transitions[i]
		d.log.Info("geofence transition",
			logger.String("geofence_id", t.Geofence.ID),
			logger.String("geofence", t.Geofence.Name),
			logger.String("kind", string(t.Kind)))
		if d.recorder != nil {
			d.recorder.RecordTransition(string(t.Kind))
		}
	}
	return transitions
}
