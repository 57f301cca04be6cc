package engine

// TurnEventType identifies one streamed turn event.
type TurnEventType string

const (
	// EventContent carries a text fragment from either completion call.
	EventContent TurnEventType = "content"
	// EventStatus marks a phase change, e.g. tool dispatch starting.
	EventStatus TurnEventType = "status"
	// EventDone carries the final TurnResult and ends the stream.
	EventDone TurnEventType = "done"
	// EventError carries a fatal turn error and ends the stream.
	EventError TurnEventType = "error"
)

// StatusDispatchingTools is emitted once when the first completion requested
// tools and dispatch begins; follow-up content fragments come after it.
const StatusDispatchingTools = "dispatching_tools"

// TurnEvent is one element of the ordered event sequence a streamed turn
// produces. Events are push-ordered and must be consumed promptly.
type TurnEvent struct {
	Type    TurnEventType `json:"type"`
	Content string        `json:"content,omitempty"`
	Status  string        `json:"status,omitempty"`
	Result  *TurnResult   `json:"result,omitempty"`
	Err     error         `json:"-"`
}
