package peer

// State is where the manager is in its connect loop.
type State int

const (
	Connecting State = iota
	Syncing
	Streaming
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Syncing:
		return "syncing"
	case Streaming:
		return "streaming"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
