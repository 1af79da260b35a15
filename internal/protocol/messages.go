package protocol

import "encoding/json"

// Kind is the wire discriminator carried in every message's "type" field.
type Kind string

const (
	// Client -> Server
	KindConnect        Kind = "connect"
	KindJoinRoom       Kind = "joinRoom"
	KindLeaveRoom      Kind = "leaveRoom"
	KindChangeUsername Kind = "changeUsername"

	// Server -> Client
	KindConnectSuccess        Kind = "connectSuccess"
	KindJoinSuccess           Kind = "joinSuccess"
	KindUsernameChangeSuccess Kind = "usernameChangeSuccess"
	KindRoomList              Kind = "roomList"
	KindUserList              Kind = "userList"
	KindUserJoined            Kind = "userJoined"
	KindUserLeft              Kind = "userLeft"
	KindHostLeft              Kind = "hostLeft"

	// Either direction
	KindPing       Kind = "ping"
	KindPong       Kind = "pong"
	KindChat       Kind = "chat"
	KindSystem     Kind = "system"
	KindSyncUpdate Kind = "syncUpdate"
	KindError      Kind = "error"
)

// Message is implemented by every wire message.
type Message interface{ MessageKind() Kind }

// Connect opens a session. Metadata keys are flattened into the top-level
// JSON object so the server sees them as ordinary fields.
type Connect struct {
	ClientID string
	Username string
	Meta     map[string]any
}

func (*Connect) MessageKind() Kind { return KindConnect }

func NewConnect(clientID, username string, meta map[string]any) *Connect {
	return &Connect{ClientID: clientID, Username: username, Meta: meta}
}

func (m *Connect) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(m.Meta)+3)
	for k, v := range m.Meta {
		obj[k] = v
	}
	obj["type"] = KindConnect
	obj["clientId"] = m.ClientID
	obj["username"] = m.Username
	return json.Marshal(obj)
}

func (m *Connect) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if raw, ok := obj["clientId"]; ok {
		if err := json.Unmarshal(raw, &m.ClientID); err != nil {
			return err
		}
	}
	if raw, ok := obj["username"]; ok {
		if err := json.Unmarshal(raw, &m.Username); err != nil {
			return err
		}
	}
	for k, raw := range obj {
		switch k {
		case "type", "clientId", "username":
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if m.Meta == nil {
			m.Meta = make(map[string]any)
		}
		m.Meta[k] = v
	}
	return nil
}

type ConnectSuccess struct {
	Type Kind `json:"type"`
}

func (*ConnectSuccess) MessageKind() Kind { return KindConnectSuccess }

func NewConnectSuccess() *ConnectSuccess { return &ConnectSuccess{Type: KindConnectSuccess} }

type JoinRoom struct {
	Type     Kind   `json:"type"`
	RoomName string `json:"roomName"`
	ClientID string `json:"clientId"`
	Username string `json:"username"`
}

func (*JoinRoom) MessageKind() Kind { return KindJoinRoom }

func NewJoinRoom(roomName, clientID, username string) *JoinRoom {
	return &JoinRoom{Type: KindJoinRoom, RoomName: roomName, ClientID: clientID, Username: username}
}

type JoinSuccess struct {
	Type     Kind   `json:"type"`
	RoomName string `json:"roomName,omitempty"`
}

func (*JoinSuccess) MessageKind() Kind { return KindJoinSuccess }

func NewJoinSuccess(roomName string) *JoinSuccess {
	return &JoinSuccess{Type: KindJoinSuccess, RoomName: roomName}
}

type LeaveRoom struct {
	Type     Kind   `json:"type"`
	ClientID string `json:"clientId"`
	Username string `json:"username"`
}

func (*LeaveRoom) MessageKind() Kind { return KindLeaveRoom }

func NewLeaveRoom(clientID, username string) *LeaveRoom {
	return &LeaveRoom{Type: KindLeaveRoom, ClientID: clientID, Username: username}
}

type ChangeUsername struct {
	Type     Kind   `json:"type"`
	Username string `json:"username"`
}

func (*ChangeUsername) MessageKind() Kind { return KindChangeUsername }

func NewChangeUsername(username string) *ChangeUsername {
	return &ChangeUsername{Type: KindChangeUsername, Username: username}
}

type UsernameChangeSuccess struct {
	Type        Kind   `json:"type"`
	OldUsername string `json:"oldUsername"`
	NewUsername string `json:"newUsername"`
	DisplayName string `json:"displayName"`
}

func (*UsernameChangeSuccess) MessageKind() Kind { return KindUsernameChangeSuccess }

func NewUsernameChangeSuccess(oldName, newName, display string) *UsernameChangeSuccess {
	return &UsernameChangeSuccess{
		Type:        KindUsernameChangeSuccess,
		OldUsername: oldName,
		NewUsername: newName,
		DisplayName: display,
	}
}

// Ping carries a sequence number and the sender's send time in unix
// milliseconds. Either side may initiate; the peer echoes both back.
type Ping struct {
	Type      Kind   `json:"type"`
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func (*Ping) MessageKind() Kind { return KindPing }

func NewPing(seq uint64, timestamp int64) *Ping {
	return &Ping{Type: KindPing, Sequence: seq, Timestamp: timestamp}
}

type Pong struct {
	Type      Kind   `json:"type"`
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

func (*Pong) MessageKind() Kind { return KindPong }

func NewPong(seq uint64, timestamp int64) *Pong {
	return &Pong{Type: KindPong, Sequence: seq, Timestamp: timestamp}
}

// RoomSummary describes one joinable room. MaxPlayers of -1 means
// unlimited.
type RoomSummary struct {
	Name        string `json:"name"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
}

type RoomList struct {
	Type  Kind          `json:"type"`
	Rooms []RoomSummary `json:"rooms"`
}

func (*RoomList) MessageKind() Kind { return KindRoomList }

func NewRoomList(rooms []RoomSummary) *RoomList {
	return &RoomList{Type: KindRoomList, Rooms: rooms}
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type UserList struct {
	Type  Kind   `json:"type"`
	Users []User `json:"users"`
}

func (*UserList) MessageKind() Kind { return KindUserList }

func NewUserList(users []User) *UserList { return &UserList{Type: KindUserList, Users: users} }

type UserJoined struct {
	Type     Kind   `json:"type"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (*UserJoined) MessageKind() Kind { return KindUserJoined }

func NewUserJoined(id, username string) *UserJoined {
	return &UserJoined{Type: KindUserJoined, ID: id, Username: username}
}

type UserLeft struct {
	Type Kind   `json:"type"`
	ID   string `json:"id"`
}

func (*UserLeft) MessageKind() Kind { return KindUserLeft }

func NewUserLeft(id string) *UserLeft { return &UserLeft{Type: KindUserLeft, ID: id} }

type HostLeft struct {
	Type Kind `json:"type"`
}

func (*HostLeft) MessageKind() Kind { return KindHostLeft }

func NewHostLeft() *HostLeft { return &HostLeft{Type: KindHostLeft} }

type Chat struct {
	Type     Kind   `json:"type"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
}

func (*Chat) MessageKind() Kind { return KindChat }

func NewChat(username, text string) *Chat {
	return &Chat{Type: KindChat, Username: username, Text: text}
}

type System struct {
	Type Kind   `json:"type"`
	Text string `json:"text"`
}

func (*System) MessageKind() Kind { return KindSystem }

func NewSystem(text string) *System { return &System{Type: KindSystem, Text: text} }

// SyncUpdate carries an opaque game-state payload. The relay forwards it
// verbatim; only the game layer on the receiving client interprets it.
type SyncUpdate struct {
	Type         Kind            `json:"type"`
	PlayerNumber int             `json:"playerNumber,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func (*SyncUpdate) MessageKind() Kind { return KindSyncUpdate }

func NewSyncUpdate(playerNumber int, payload json.RawMessage) *SyncUpdate {
	return &SyncUpdate{Type: KindSyncUpdate, PlayerNumber: playerNumber, Payload: payload}
}

type Error struct {
	Type Kind   `json:"type"`
	Text string `json:"text"`
}

func (*Error) MessageKind() Kind { return KindError }

func NewError(text string) *Error { return &Error{Type: KindError, Text: text} }

// Unknown preserves messages whose type the client does not recognize.
// They are re-emitted locally under their literal type so game extensions
// (attack notices, knockouts, match results) ride the same socket.
type Unknown struct {
	Type Kind
	Raw  json.RawMessage
}

func (m *Unknown) MessageKind() Kind { return m.Type }

func (m *Unknown) MarshalJSON() ([]byte, error) { return m.Raw, nil }
