package client

// State is the engine's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateSelected
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnected:
		return "Connected"
	case StateAuthenticated:
		return "Authenticated"
	case StateSelected:
		return "Selected"
	case StateIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// commandAllowed gates which commands are legal in which state. Most
// verbs are legal from a floor state upward; STARTTLS, AUTHENTICATE,
// LOGIN, ENABLE, COMPRESS, IDLE, and the Selected-only verbs have
// exact-state requirements of their own.
func commandAllowed(verb string, s State) bool {
	switch verb {
	case "STARTTLS", "AUTHENTICATE", "LOGIN":
		return s == StateConnected
	case "ID", "CAPABILITY", "NOOP", "LOGOUT":
		return s >= StateConnected
	case "ENABLE":
		return s == StateAuthenticated
	case "COMPRESS":
		return s == StateConnected || s == StateAuthenticated
	case "NOTIFY", "NAMESPACE", "SELECT", "EXAMINE", "CREATE", "DELETE",
		"RENAME", "SUBSCRIBE", "UNSUBSCRIBE", "LIST", "LSUB", "STATUS", "APPEND":
		return s >= StateAuthenticated
	case "CHECK", "CLOSE", "EXPUNGE", "SEARCH", "FETCH", "STORE", "COPY", "UID":
		return s == StateSelected
	case "IDLE":
		return s == StateSelected
	default:
		return s >= StateConnected
	}
}
