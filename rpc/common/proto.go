package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned when wire text cannot be decoded into a Message.
var ErrMalformed = errors.New("malformed message payload")

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is the envelope exchanged between client and server. Every frame
// on the wire carries exactly one serialized Message: msg_type names the
// semantic kind, the data map holds the type-specific payload.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Arbitrary payload. Never nil after NewMessage or Deserialize.
	Data map[string]any `json:"data"`
}

// NewMessage creates a message of the given type. A nil data map is replaced
// by an empty one, so Data can always be indexed without a nil check.
func NewMessage(msgType MessageType, data map[string]any) *Message {
	if data == nil {
		data = map[string]any{}
	}
	return &Message{MsgType: msgType, Data: data}
}

// Serialize converts the message to its wire-text form, a JSON object with
// the two fields msg_type and data.
func (m *Message) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialize parses wire text back into a Message. Invalid JSON or a
// missing msg_type field yields ErrMalformed.
func Deserialize(b []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.MsgType == "" {
		return nil, fmt.Errorf("%w: missing msg_type field", ErrMalformed)
	}
	if msg.Data == nil {
		msg.Data = map[string]any{}
	}
	return &msg, nil
}

// --------------------------------------------------------------------------
// Payload Accessors
// --------------------------------------------------------------------------

// GetString returns the string stored under key, or "" if absent or not a
// string.
func (m *Message) GetString(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// GetBool returns the bool stored under key, or false if absent.
func (m *Message) GetBool(key string) bool {
	b, _ := m.Data[key].(bool)
	return b
}

// GetMap returns the nested object stored under key, or nil if absent.
func (m *Message) GetMap(key string) map[string]any {
	v, _ := m.Data[key].(map[string]any)
	return v
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRegisterRequest creates a registration request
func NewRegisterRequest(name, nickname, email, password string) *Message {
	return NewMessage(MsgTRegister, map[string]any{
		"name":     name,
		"nickname": nickname,
		"email":    email,
		"password": password,
	})
}

// NewLoginRequest creates a login request
func NewLoginRequest(email, password string) *Message {
	return NewMessage(MsgTLogin, map[string]any{
		"email":    email,
		"password": password,
	})
}

// NewLogoutRequest creates a logout request
func NewLogoutRequest() *Message {
	return NewMessage(MsgTLogout, nil)
}

// NewQueryRequest creates a dataset query request. The includeChart flag asks
// the server to render and attach a chart alongside the result table.
func NewQueryRequest(requestID, queryType string, parameters map[string]any, includeChart bool) *Message {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return NewMessage(MsgTQuery, map[string]any{
		"request_id":    requestID,
		"query_type":    queryType,
		"parameters":    parameters,
		"include_chart": includeChart,
	})
}

// NewQueryResult creates a successful query response. The table and figure
// arguments are codec-encoded payloads; figure may be empty.
func NewQueryResult(requestID, queryType, table, figure string) *Message {
	data := map[string]any{
		"request_id": requestID,
		"query_type": queryType,
		"status":     StatusOK,
		"table":      table,
	}
	if figure != "" {
		data["figure"] = figure
	}
	return NewMessage(MsgTQueryResult, data)
}

// NewMetadataRequest creates a dataset metadata request
func NewMetadataRequest(requestID string) *Message {
	return NewMessage(MsgTGetMetadata, map[string]any{
		"request_id": requestID,
	})
}

// NewServerMessage creates a notice pushed from server to client
func NewServerMessage(text string) *Message {
	return NewMessage(MsgTServerMessage, map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"message":   text,
	})
}

// NewStatusResponse creates a response of the given type carrying only a
// status and, on failure, the error text.
func NewStatusResponse(msgType MessageType, err error) *Message {
	data := map[string]any{"status": StatusOK}
	if err != nil {
		data["status"] = StatusError
		data["error"] = err.Error()
	}
	return NewMessage(msgType, data)
}

// NewErrorResponse creates a generic error response. The requestID may be
// empty when the failure is not tied to a specific request.
func NewErrorResponse(errText, requestID string) *Message {
	data := map[string]any{
		"status": StatusError,
		"error":  errText,
	}
	if requestID != "" {
		data["request_id"] = requestID
	}
	return NewMessage(MsgTError, data)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

// MessageType defines the semantic kind of a Message. It is transported as a
// plain string in the msg_type field.
type MessageType string

const (
	MsgTRegister      MessageType = "REGISTER"
	MsgTLogin         MessageType = "LOGIN"
	MsgTLogout        MessageType = "LOGOUT"
	MsgTQuery         MessageType = "QUERY"
	MsgTQueryResult   MessageType = "QUERY_RESULT"
	MsgTServerMessage MessageType = "SERVER_MESSAGE"
	MsgTGetMetadata   MessageType = "GET_METADATA"
	MsgTMetadata      MessageType = "METADATA"
	MsgTError         MessageType = "ERROR"
)

// Response status codes stored under the "status" payload key.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)
