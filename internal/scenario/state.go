// Package scenario implements the slot-filling state machine that extracts a
// conversation scenario (place, partner, goal) from free-form user speech.
//
// A [Builder] owns a [State] and drives it through a short turn-based dialogue:
// each finalized user utterance is run through an extractor, accepted values
// are merged first-write-wins, and the builder either asks a follow-up
// question for a missing field or finalizes the scenario. When the question
// budget is exhausted the builder degrades gracefully: a fallback generator is
// asked to infer plausible values, and the scenario completes even if that
// inference fails.
//
// The [Pipeline] and [AudioRelay] types connect the builder to a live
// realtime event stream; see their documentation.
package scenario

// Field names, in the fixed order follow-up questions consider them.
const (
	FieldPlace   = "place"
	FieldPartner = "partner"
	FieldGoal    = "goal"
)

// fieldOrder is the canonical ordering of scenario fields.
var fieldOrder = []string{FieldPlace, FieldPartner, FieldGoal}

// Fields holds one extraction result. Empty strings mean "not mentioned".
type Fields struct {
	Place   string
	Partner string
	Goal    string
}

// State is the mutable scenario slot state for one session. It is a plain
// data holder: only [Builder] mutates it, and never after Completed is set.
type State struct {
	Place   string
	Partner string
	Goal    string

	// Attempts counts follow-up questions asked so far.
	Attempts int

	// AskedFields records which fields have already been queried, so the
	// builder rotates through missing fields instead of repeating one.
	AskedFields map[string]bool

	// Completed is set exactly once, either when all three fields are
	// populated or when the fallback path has run.
	Completed bool
}

// NewState returns an empty State ready for use by a [Builder].
func NewState() *State {
	return &State{AskedFields: make(map[string]bool)}
}

// IsComplete reports whether all three fields are populated.
func (s *State) IsComplete() bool {
	return s.Place != "" && s.Partner != "" && s.Goal != ""
}

// MissingFields returns the unpopulated field names in canonical order.
func (s *State) MissingFields() []string {
	var missing []string
	for _, f := range fieldOrder {
		if s.value(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Merge applies an extraction result with first-write-wins semantics: a field
// that is already populated is never overwritten, and a later contradicting
// extraction is silently dropped.
func (s *State) Merge(ext Fields) {
	if ext.Place != "" && s.Place == "" {
		s.Place = ext.Place
	}
	if ext.Partner != "" && s.Partner == "" {
		s.Partner = ext.Partner
	}
	if ext.Goal != "" && s.Goal == "" {
		s.Goal = ext.Goal
	}
}

func (s *State) value(field string) string {
	switch field {
	case FieldPlace:
		return s.Place
	case FieldPartner:
		return s.Partner
	case FieldGoal:
		return s.Goal
	}
	return ""
}
