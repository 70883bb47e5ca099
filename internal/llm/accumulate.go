package llm

// Accumulator stitches streamed tool-call fragments back into whole calls,
// preserving the order in which the model opened them. A fragment carrying
// a new ID at an index already in use opens a new call: some providers omit
// the index and every call then arrives at position 0.
type Accumulator struct {
	calls []*ToolCall
	open  map[int]int // stream index -> position in calls
}

func NewAccumulator() *Accumulator {
	return &Accumulator{open: map[int]int{}}
}

func (a *Accumulator) Add(deltas []ToolCallDelta) {
	for _, d := range deltas {
		pos, ok := a.open[d.Index]
		if !ok || (d.ID != "" && a.calls[pos].ID != "" && a.calls[pos].ID != d.ID) {
			a.calls = append(a.calls, &ToolCall{})
			pos = len(a.calls) - 1
			a.open[d.Index] = pos
		}
		call := a.calls[pos]
		if d.ID != "" {
			call.ID = d.ID
		}
		if d.Name != "" {
			call.Name = d.Name
		}
		call.Arguments += d.Arguments
	}
}

// Calls returns the assembled calls ordered by first appearance.
func (a *Accumulator) Calls() []ToolCall {
	out := make([]ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, *c)
	}
	return out
}

func (a *Accumulator) Len() int { return len(a.calls) }
