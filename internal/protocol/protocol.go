// Package protocol implements the line-oriented JSON envelope codec.
//
// Every frame on the wire is one JSON object per line, shaped
// {"type": <MessageType>, "data": <payload>}. The payload shape is
// fully determined by the type tag; the codec is the only component
// allowed to map between the two.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrUnknownType is returned when the type tag does not match a known MessageType.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingPayload is returned when the data field is absent or null.
	ErrMissingPayload = errors.New("missing or null data field")
	// ErrPayloadMismatch is returned when the payload does not match the declared type.
	ErrPayloadMismatch = errors.New("payload does not match message type")
)

// MessageType is the closed set of envelope type tags.
type MessageType string

const (
	TypeLogin    MessageType = "LOGIN"
	TypeLogout   MessageType = "LOGOUT"
	TypeRegister MessageType = "REGISTER"
	TypeChat     MessageType = "CHAT"
	TypeSendMail MessageType = "SEND_MAIL"
	TypeGetInbox MessageType = "GET_INBOX"
	TypeForward  MessageType = "FORWARD"
	TypeResponse MessageType = "RESPONSE"
	TypeError    MessageType = "ERROR"
)

// Valid reports whether t is a member of the closed MessageType set.
func (t MessageType) Valid() bool {
	switch t {
	case TypeLogin, TypeLogout, TypeRegister, TypeChat, TypeSendMail,
		TypeGetInbox, TypeForward, TypeResponse, TypeError:
		return true
	}
	return false
}

// LoginData is the payload of a LOGIN request.
type LoginData struct {
	Email string `json:"email"`
}

// LogoutData is the payload of a LOGOUT request. It carries no fields
// but must still be present on the wire.
type LogoutData struct{}

// RegisterData is the payload of a REGISTER request.
type RegisterData struct {
	Email string `json:"email"`
}

// ChatData is the payload of a CHAT broadcast.
type ChatData struct {
	Message string `json:"message"`
}

// GetInboxData is the payload of a GET_INBOX request.
type GetInboxData struct{}

// Mail is both the SEND_MAIL wire payload and the stored inbox record.
type Mail struct {
	SenderEmail string   `json:"senderEmail"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Receivers   []string `json:"receiversEmail"`
}

// ForwardData is the payload of a FORWARD request: the mail to forward
// (which must already exist in the requester's inbox) and the addresses
// to extend it to.
type ForwardData struct {
	Mail      Mail     `json:"mail"`
	ForwardTo []string `json:"forwardTo"`
}

// StatusData is the payload of RESPONSE and ERROR envelopes. ResponseTo
// names the request type being answered.
type StatusData struct {
	ResponseTo MessageType `json:"responseTo"`
	Message    string      `json:"message"`
}

// Message is a decoded envelope: the type tag plus its payload value.
// Data holds the concrete payload type for the tag (LoginData,
// ChatData, Mail, ...), never a raw map.
type Message struct {
	Type MessageType
	Data any
}

// Response builds a RESPONSE message answering the given request type.
func Response(to MessageType, text string) Message {
	return Message{Type: TypeResponse, Data: StatusData{ResponseTo: to, Message: text}}
}

// Error builds an ERROR message answering the given request type.
func Error(to MessageType, text string) Message {
	return Message{Type: TypeError, Data: StatusData{ResponseTo: to, Message: text}}
}

// envelope is the wire shape of a frame.
type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes a message to a single line of JSON (without the
// trailing newline). The payload must be the exact type declared for
// the tag; anything else is rejected rather than serialized loosely.
func Encode(msg Message) (string, error) {
	if !msg.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, string(msg.Type))
	}
	if !payloadMatches(msg.Type, msg.Data) {
		return "", fmt.Errorf("%w: %s carrying %T", ErrPayloadMismatch, msg.Type, msg.Data)
	}

	data, err := json.Marshal(msg.Data)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}
	line, err := json.Marshal(envelope{Type: msg.Type, Data: data})
	if err != nil {
		return "", fmt.Errorf("encode %s envelope: %w", msg.Type, err)
	}
	return string(line), nil
}

// Decode parses one line into a message. The type tag is validated
// against the closed set, the data field must be present and non-null,
// and the payload is deserialized into the shape declared for the tag.
// A structural mismatch fails the whole decode; callers never see a
// partially populated payload.
func Decode(line string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return Message{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if !env.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, string(env.Type))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Message{}, fmt.Errorf("%w: %s", ErrMissingPayload, env.Type)
	}

	data, err := decodePayload(env.Type, env.Data)
	if err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return Message{Type: env.Type, Data: data}, nil
}

// payloadMatches is the encode-side allow-list: one concrete payload
// type per tag.
func payloadMatches(t MessageType, data any) bool {
	switch t {
	case TypeLogin:
		_, ok := data.(LoginData)
		return ok
	case TypeLogout:
		_, ok := data.(LogoutData)
		return ok
	case TypeRegister:
		_, ok := data.(RegisterData)
		return ok
	case TypeChat:
		_, ok := data.(ChatData)
		return ok
	case TypeSendMail:
		_, ok := data.(Mail)
		return ok
	case TypeGetInbox:
		_, ok := data.(GetInboxData)
		return ok
	case TypeForward:
		_, ok := data.(ForwardData)
		return ok
	case TypeResponse, TypeError:
		_, ok := data.(StatusData)
		return ok
	}
	return false
}

// decodePayload has one arm per MessageType so that adding a type
// without a decode arm is caught here, not by a silent default.
func decodePayload(t MessageType, raw json.RawMessage) (any, error) {
	switch t {
	case TypeLogin:
		var d LoginData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeLogout:
		var d LogoutData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeRegister:
		var d RegisterData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeChat:
		var d ChatData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeSendMail:
		var d Mail
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeGetInbox:
		var d GetInboxData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeForward:
		var d ForwardData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeResponse, TypeError:
		var d StatusData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
}
