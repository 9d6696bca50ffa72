package events

import "encoding/json"

// Control frame types exchanged on a long-lived connection alongside the
// event frames.
const (
	FramePing          = "PING"
	FramePong          = "PONG"
	FrameIdentify      = "IDENTIFY"
	FrameCommand       = "COMMAND"
	FrameCommandResult = "COMMAND_RESULT"
	FrameError         = "ERROR"
)

// CommandResult answers a COMMAND frame. It is sent only to the connection
// that issued the command.
type CommandResult struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// ErrorPayload is the payload of an ERROR frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ControlFrame encodes a frame that carries no sequence number.
func ControlFrame(frameType string, payload any) ([]byte, error) {
	f := Frame{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = data
	}
	return json.Marshal(f)
}
