package hptdc

// Channels of FL words carrying E and P positions.
const (
	channelE = 1
	channelP = 2
)

// ClassifierState is the open run of the event classifier. It is carried
// from one chunk of words to the next, so chunk boundaries may fall
// anywhere in the stream.
type ClassifierState struct {
	E []int32
	P []int32
}

// Pending reports whether the open run holds positions.
func (s *ClassifierState) Pending() bool {
	return len(s.E) > 0 || len(s.P) > 0
}

func (s *ClassifierState) Reset() {
	s.E = s.E[:0]
	s.P = s.P[:0]
}

// close classifies the open run and starts a new one.
func (s *ClassifierState) close() (EventRecord, bool) {
	if !s.Pending() {
		return EventRecord{}, false
	}
	kind := kindOf(len(s.E), len(s.P))
	record := EventRecord{Kind: kind}
	if kind == EventOther {
		record.Other = &OtherSummary{
			E: append([]int32(nil), s.E...),
			P: append([]int32(nil), s.P...),
		}
	} else {
		record.Positions = make([]int32, 0, len(s.E)+len(s.P))
		record.Positions = append(record.Positions, s.E...)
		record.Positions = append(record.Positions, s.P...)
	}
	s.Reset()
	return record, true
}

// Classify feeds words to the classifier and calls emit for every run
// closed by an RL word. It returns the number of RL words seen. GR words
// and FL words of other channels carry no weight.
func Classify(state *ClassifierState, words []DecodedWord, emit func(EventRecord)) int {
	boundaries := 0
	for _, word := range words {
		switch word.Type {
		case WordRL:
			boundaries++
			if record, ok := state.close(); ok {
				emit(record)
			}
		case WordFL:
			switch word.Arg1 {
			case channelE:
				state.E = append(state.E, word.Arg3)
			case channelP:
				state.P = append(state.P, word.Arg3)
			}
		}
	}
	return boundaries
}

// StepClassifier collects the events of one step.
type StepClassifier struct {
	state ClassifierState
	set   EventSet
}

func (c *StepClassifier) Feed(words []DecodedWord) {
	c.set.NEvents += Classify(&c.state, words, c.set.Add)
}

// Finish drops a run left open at the end of the step and returns the
// collected events. The classifier is ready for the next step afterwards.
func (c *StepClassifier) Finish() EventSet {
	if c.state.Pending() {
		c.set.Unterminated++
		c.state.Reset()
	}
	set := c.set
	c.set = EventSet{}
	return set
}
