package kernel

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/codemodehq/codemode/pkg/errors"
)

// protocolVersion is the Jupyter messaging protocol version we speak.
const protocolVersion = "5.3"

// channelShell is the channel execute requests are sent on.
const channelShell = "shell"

// Kernel message types the execution loop dispatches on.
const (
	MsgTypeStream        = "stream"
	MsgTypeExecuteResult = "execute_result"
	MsgTypeDisplayData   = "display_data"
	MsgTypeError         = "error"
	MsgTypeStatus        = "status"
)

// ExecutionStateIdle is the status frame state that marks an execution as
// finished.
const ExecutionStateIdle = "idle"

type messageHeader struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	Version  string `json:"version"`
}

type executeContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

type executeRequest struct {
	Header       messageHeader  `json:"header"`
	ParentHeader struct{}       `json:"parent_header"`
	Content      executeContent `json:"content"`
	Metadata     struct{}       `json:"metadata"`
	Channel      string         `json:"channel"`
}

// NewExecuteMsgID returns a fresh execute_request message id. Replies are
// correlated against it via their parent header.
func NewExecuteMsgID() string {
	return hexUUID()
}

// hexUUID returns a random UUID without dashes, the form the gateway echoes
// back in parent headers.
func hexUUID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

// newExecuteRequest assembles the execute_request frame for one code string.
// History is stored and stdin is disallowed: daemon scripts are batch
// executions with no interactive input channel.
func newExecuteRequest(msgID, code string) executeRequest {
	return executeRequest{
		Header: messageHeader{
			MsgID:    msgID,
			MsgType:  "execute_request",
			Username: "user",
			Session:  hexUUID(),
			Date:     "",
			Version:  protocolVersion,
		},
		Content: executeContent{
			Code:            code,
			Silent:          false,
			StoreHistory:    true,
			UserExpressions: map[string]any{},
			AllowStdin:      false,
			StopOnError:     true,
		},
		Channel: channelShell,
	}
}

// Message is a single frame received from the channels socket. The raw JSON
// is kept as-is; accessors pull out the handful of fields the execution loop
// dispatches on.
type Message struct {
	raw []byte
}

// ParseMessage validates a raw frame as JSON. Malformed frames yield a
// protocol error so callers can skip them without tearing the socket down.
func ParseMessage(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return Message{}, errors.NewProtocolError("malformed kernel frame", nil)
	}
	return Message{raw: data}, nil
}

// MsgType returns the frame's message type.
func (m Message) MsgType() string {
	return gjson.GetBytes(m.raw, "msg_type").String()
}

// ParentMsgID returns the msg_id of the request this frame replies to.
func (m Message) ParentMsgID() string {
	return gjson.GetBytes(m.raw, "parent_header.msg_id").String()
}

// ExecutionState returns the state carried by a status frame.
func (m Message) ExecutionState() string {
	return gjson.GetBytes(m.raw, "content.execution_state").String()
}

// StreamName returns the stream a stream frame writes to, defaulting to
// stdout when the gateway omits the name.
func (m Message) StreamName() string {
	name := gjson.GetBytes(m.raw, "content.name").String()
	if name == "" {
		return "stdout"
	}
	return name
}

// StreamText returns the text payload of a stream frame.
func (m Message) StreamText() string {
	return gjson.GetBytes(m.raw, "content.text").String()
}

// TextPlain returns the text/plain representation carried by execute_result
// and display_data frames, and whether one was present.
func (m Message) TextPlain() (string, bool) {
	result := gjson.GetBytes(m.raw, "content.data.text/plain")
	return result.String(), result.Exists()
}

// Traceback returns the traceback lines of an error frame.
func (m Message) Traceback() []string {
	entries := gjson.GetBytes(m.raw, "content.traceback").Array()
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, entry.String())
	}
	return lines
}

// marshalExecuteRequest renders the frame for the wire.
func marshalExecuteRequest(req executeRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}
	return payload, nil
}
