package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrInvalidEncoding = errors.New("payload is not valid UTF-8")
	ErrMissingField    = errors.New("payload is missing a required field")
)

// Command is the control message published on the gate topic:
//
//	{"command": "open", "passthrough": <any>}
//
// Passthrough is opaque; it is carried and logged, never interpreted.
type Command struct {
	Command     string
	Passthrough json.RawMessage
}

func (command Command) IsOpen() bool {
	return command.Command == OpenCommand
}

// ParseCommand decodes a raw payload. Both keys must be present. A command
// value that is not a string is kept as an empty command, which never
// matches "open".
func ParseCommand(payload []byte) (Command, error) {
	if !utf8.Valid(payload) {
		return Command{}, ErrInvalidEncoding
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Command{}, fmt.Errorf("decode command payload: %w", err)
	}

	rawCommand, found := fields["command"]
	if !found {
		return Command{}, fmt.Errorf("%w: command", ErrMissingField)
	}
	passthrough, found := fields["passthrough"]
	if !found {
		return Command{}, fmt.Errorf("%w: passthrough", ErrMissingField)
	}

	var command string
	if err := json.Unmarshal(rawCommand, &command); err != nil {
		command = ""
	}

	return Command{Command: command, Passthrough: passthrough}, nil
}

// EncodeCommand renders a command for publishing. A nil passthrough is sent
// as JSON null so receivers always find the key.
func EncodeCommand(command Command) ([]byte, error) {
	passthrough := command.Passthrough
	if len(passthrough) == 0 {
		passthrough = json.RawMessage("null")
	}
	payload, err := json.Marshal(struct {
		Command     string          `json:"command"`
		Passthrough json.RawMessage `json:"passthrough"`
	}{command.Command, passthrough})
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return payload, nil
}
