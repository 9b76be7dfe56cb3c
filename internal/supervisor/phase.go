package supervisor

// Phase is the supervisor lifecycle phase.
type Phase int

const (
	// Disconnected is the initial phase and the phase between connections.
	Disconnected Phase = iota
	// Connecting means a transport is open but the server has not sent connect yet.
	Connecting
	// Live means connect was received and listeners are bound.
	Live
	// Stopped is final.
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
