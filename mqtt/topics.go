package mqtt

// DefaultGateTopic is the control topic the gate controller listens on.
const DefaultGateTopic = "siyangz/home/gate"

const (
	OpenCommand   = "open"
	GateOpenEvent = "gate_open"
)
