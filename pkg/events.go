package hptdc

import (
	"fmt"
	"strconv"
	"strings"
)

// DetectionMode names the particles of the second detector: positive ions
// or ions in general. It only changes the names of the event types.
type DetectionMode string

const (
	DetectEP DetectionMode = "EP"
	DetectEI DetectionMode = "EI"
)

func ParseDetectionMode(s string) (DetectionMode, error) {
	switch DetectionMode(strings.ToUpper(s)) {
	case DetectEP:
		return DetectEP, nil
	case DetectEI:
		return DetectEI, nil
	default:
		return "", fmt.Errorf("unknown detection mode %q, expected EP or EI", s)
	}
}

// Rename replaces the P particle in an event name by the one of the mode.
func (m DetectionMode) Rename(name string) string {
	if m == DetectEI {
		return strings.ReplaceAll(name, "P", "I")
	}
	return name
}

type EventKind int

const (
	EventE EventKind = iota
	EventP
	EventEP
	EventEE
	EventPP
	EventEEP
	EventEEE
	EventEEEE
	EventOther
)

type eventShape struct {
	name string
	e, p int
}

var eventShapes = []eventShape{
	{"E", 1, 0},
	{"P", 0, 1},
	{"EP", 1, 1},
	{"EE", 2, 0},
	{"PP", 0, 2},
	{"EEP", 2, 1},
	{"EEE", 3, 0},
	{"EEEE", 4, 0},
	{"other", 0, 0},
}

// TypedEventKinds are the kinds with a fixed number of positions.
var TypedEventKinds = []EventKind{EventE, EventP, EventEP, EventEE, EventPP, EventEEP, EventEEE, EventEEEE}

func (k EventKind) String() string {
	if k < EventE || k > EventOther {
		return "unknown"
	}
	return eventShapes[k].name
}

// Name is the dataset name of the kind for a detection mode.
func (k EventKind) Name(mode DetectionMode) string {
	if k == EventOther {
		return k.String()
	}
	return mode.Rename(k.String())
}

// Width is the number of positions of an event of this kind.
func (k EventKind) Width() int {
	if k < EventE || k >= EventOther {
		return 0
	}
	return eventShapes[k].e + eventShapes[k].p
}

func kindOf(e, p int) EventKind {
	for kind, shape := range eventShapes[:EventOther] {
		if shape.e == e && shape.p == p {
			return EventKind(kind)
		}
	}
	return EventOther
}

// OtherSummary holds the positions of a run matching no event kind.
type OtherSummary struct {
	E []int32
	P []int32
}

func joinPositions(values []int32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(int64(v), 10)
	}
	return strings.Join(parts, ",")
}

// Format renders the summary as "<n>E<m>P|<e,...>|<p,...>".
func (o OtherSummary) Format(mode DetectionMode) string {
	counts := mode.Rename(fmt.Sprintf("%dE%dP", len(o.E), len(o.P)))
	return counts + "|" + joinPositions(o.E) + "|" + joinPositions(o.P)
}

// EventRecord is one classified run. Positions lists the E positions
// followed by the P positions; Other is only set for EventOther.
type EventRecord struct {
	Kind      EventKind
	Positions []int32
	Other     *OtherSummary
}

// EventSet accumulates the events of one step.
type EventSet struct {
	// Rows holds the positions of each typed kind, Width values per event.
	Rows  [EventOther][]int32
	Other []OtherSummary
	// NEvents counts RL boundaries, including those closing empty runs.
	NEvents int
	// Unterminated counts runs without a closing RL at the end of the step.
	Unterminated int
}

func (s *EventSet) Add(record EventRecord) {
	if record.Kind == EventOther {
		if record.Other != nil {
			s.Other = append(s.Other, *record.Other)
		}
		return
	}
	s.Rows[record.Kind] = append(s.Rows[record.Kind], record.Positions...)
}

// Count returns the number of events of a kind.
func (s *EventSet) Count(kind EventKind) int {
	if kind == EventOther {
		return len(s.Other)
	}
	width := kind.Width()
	if width == 0 {
		return 0
	}
	return len(s.Rows[kind]) / width
}

func (s *EventSet) Total() int {
	n := 0
	for kind := EventE; kind <= EventOther; kind++ {
		n += s.Count(kind)
	}
	return n
}

// WriteEvents stores the set below group: one int32 dataset per typed
// kind, a text dataset with the other summaries and the n_events
// attribute.
func WriteEvents(sink Sink, group string, set *EventSet, mode DetectionMode, compressThreshold int) error {
	if err := sink.WriteAttribute(group, "n_events", strconv.Itoa(set.NEvents)); err != nil {
		return err
	}
	if set.Unterminated > 0 {
		if err := sink.WriteAttribute(group, "unterminated", strconv.Itoa(set.Unterminated)); err != nil {
			return err
		}
	}

	other := make([]string, len(set.Other))
	for i, summary := range set.Other {
		other[i] = summary.Format(mode)
	}
	if err := writeDataset(sink, group, EventOther.Name(mode), DatasetSpec{Kind: TextData, Shape: []int{len(other)}}, Chunk{Text: other}); err != nil {
		return err
	}

	for _, kind := range TypedEventKinds {
		rows := set.Rows[kind]
		shape := []int{set.Count(kind)}
		if kind.Width() > 1 {
			shape = append(shape, kind.Width())
		}
		spec := DatasetSpec{Kind: Int32Data, Shape: shape}
		spec.Compress = compressThreshold >= 0 && len(rows)*Int32Data.ItemSize() >= compressThreshold
		if err := writeDataset(sink, group, kind.Name(mode), spec, Chunk{Int32: rows}); err != nil {
			return err
		}
	}
	return nil
}

func writeDataset(sink Sink, group, name string, spec DatasetSpec, chunk Chunk) error {
	dataset, err := sink.CreateDataset(group, name, spec)
	if err != nil {
		return err
	}
	if chunk.Len() > 0 {
		if err := dataset.Write(0, chunk); err != nil {
			dataset.Close()
			return err
		}
	}
	return dataset.Close()
}
