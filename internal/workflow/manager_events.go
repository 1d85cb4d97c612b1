package workflow

import (
	"partforge/internal/extraction"
	"partforge/internal/stage"
)

// EventType labels observer events.
type EventType string

const (
	EventStageStarted EventType = "stage_started"
	EventStateChanged EventType = "state_changed"
	EventStageFailed  EventType = "stage_failed"
	EventUnitRound    EventType = "unit_round"
	EventChunk        EventType = "chunk"
)

// Event is delivered to observers. Snapshot is set for stage and state
// events; Round for unit rounds; Chunk for streamed output.
type Event struct {
	Type     EventType
	Stage    string
	UnitID   string
	Round    *extraction.Round
	Chunk    string
	Err      error
	Snapshot *Snapshot
}

// Observer receives events synchronously. Unit round and chunk events may
// arrive concurrently from different extraction units.
type Observer func(Event)

// Subscribe registers an observer and returns its cancel function.
func (m *Manager) Subscribe(fn Observer) func() {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.obsMu.Unlock()
	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.obsMu.Lock()
	observers := make([]Observer, 0, len(m.observers))
	for id := 0; id < m.nextObs; id++ {
		if fn, ok := m.observers[id]; ok {
			observers = append(observers, fn)
		}
	}
	m.obsMu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (m *Manager) emitSnapshot(typ EventType, stageName string, err error) {
	snap := m.Snapshot()
	m.emit(Event{Type: typ, Stage: stageName, Err: err, Snapshot: &snap})
}

func (m *Manager) onRound(unitID string, round extraction.Round) {
	m.emit(Event{Type: EventUnitRound, Stage: stage.NameExtraction, UnitID: unitID, Round: &round})
}
