package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrUnknownKind  = errors.New("unknown frame kind")
	ErrMissingField = errors.New("missing required field")
)

func require(ok bool, field string) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// Encode serializes f as a single-line JSON object with its type tag first.
// HTML escaping is off so message text round-trips byte for byte.
func Encode(f Frame) ([]byte, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Kind(), err)
	}
	fields := bytes.TrimSpace(body.Bytes())

	var out bytes.Buffer
	out.Grow(len(fields) + 24)
	out.WriteString(`{"type":"`)
	out.WriteString(string(f.Kind()))
	out.WriteByte('"')
	if len(fields) > 2 {
		out.WriteByte(',')
		out.Write(fields[1:])
	} else {
		out.WriteByte('}')
	}
	return out.Bytes(), nil
}

// Decode parses one frame. Unknown tags are rejected rather than ignored.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var f Frame
	switch head.Type {
	case KindJoin:
		f = &Join{}
	case KindMessage:
		f = &Message{}
	case KindHistory:
		f = &History{}
	case KindUserJoined:
		f = &UserJoined{}
	case KindUserLeft:
		f = &UserLeft{}
	case KindOnlineCount:
		f = &OnlineCount{}
	case KindUserStatus:
		f = &UserStatus{}
	case KindUsersList:
		f = &UsersList{}
	case KindClearChat:
		f = &ClearChat{}
	case KindHeartbeat:
		f = &Heartbeat{}
	case KindHeartbeatAck:
		f = &HeartbeatAck{}
	case KindError:
		f = &Error{}
	case "":
		return nil, fmt.Errorf("%w: no type tag", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}

	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", head.Type, err)
	}
	return f, nil
}
