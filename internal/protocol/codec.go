package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMissingType = errors.New("message has no type field")

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire frame into its concrete message type. Frames with
// an unrecognized type decode into *Unknown carrying the raw bytes.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message head: %w", err)
	}
	if head.Type == "" {
		return nil, ErrMissingType
	}

	var m Message
	switch head.Type {
	case KindConnect:
		m = &Connect{}
	case KindConnectSuccess:
		m = &ConnectSuccess{}
	case KindJoinRoom:
		m = &JoinRoom{}
	case KindJoinSuccess:
		m = &JoinSuccess{}
	case KindLeaveRoom:
		m = &LeaveRoom{}
	case KindChangeUsername:
		m = &ChangeUsername{}
	case KindUsernameChangeSuccess:
		m = &UsernameChangeSuccess{}
	case KindPing:
		m = &Ping{}
	case KindPong:
		m = &Pong{}
	case KindRoomList:
		m = &RoomList{}
	case KindUserList:
		m = &UserList{}
	case KindUserJoined:
		m = &UserJoined{}
	case KindUserLeft:
		m = &UserLeft{}
	case KindHostLeft:
		m = &HostLeft{}
	case KindChat:
		m = &Chat{}
	case KindSystem:
		m = &System{}
	case KindSyncUpdate:
		m = &SyncUpdate{}
	case KindError:
		m = &Error{}
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return &Unknown{Type: head.Type, Raw: raw}, nil
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return m, nil
}
