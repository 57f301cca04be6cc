package engine

import "sort"

// callState tracks a pending streamed tool call. A call opens on first sight
// of its index, closes when the stream ends, and only then is its argument
// string treated as complete JSON.
type callState int

const (
	callOpen callState = iota
	callClosed
)

// pendingCall accumulates one tool call across deltas. Name and arguments
// arrive as successive fragments and are append-only; the arguments string
// is not valid JSON until the call closes.
type pendingCall struct {
	state     callState
	id        string
	name      string
	arguments string
}

// toolCallAccumulator reconstructs tool calls from indexed streaming deltas.
// Providers stream each call's fields in fragments keyed by an integer
// index; fragments for the same index append, never replace.
type toolCallAccumulator struct {
	calls map[int]*pendingCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

// Add folds one delta fragment into the call at index. The provider-assigned
// ID arrives once; name and argument fragments accumulate. Fragments for a
// closed call are dropped.
func (a *toolCallAccumulator) Add(index int, id, name, arguments string) {
	call, ok := a.calls[index]
	if !ok {
		call = &pendingCall{state: callOpen}
		a.calls[index] = call
	}
	if call.state != callOpen {
		return
	}

	if id != "" {
		call.id = id
	}
	call.name += name
	call.arguments += arguments
}

// Finalize closes every pending call and returns the reconstructed requests
// in index order. Calls that never received an ID or name are incomplete
// provider output and are dropped.
func (a *toolCallAccumulator) Finalize() []ToolCallRequest {
	indexes := make([]int, 0, len(a.calls))
	for index := range a.calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	requests := make([]ToolCallRequest, 0, len(a.calls))
	for _, index := range indexes {
		call := a.calls[index]
		call.state = callClosed

		if call.id == "" || call.name == "" {
			continue
		}
		requests = append(requests, ToolCallRequest{
			ID:        call.id,
			Name:      call.name,
			Arguments: call.arguments,
		})
	}

	return requests
}
