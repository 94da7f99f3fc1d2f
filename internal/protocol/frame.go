package protocol

// Kind is the type tag carried by every frame.
type Kind string

const (
	KindJoin         Kind = "join"
	KindMessage      Kind = "message"
	KindHistory      Kind = "history"
	KindUserJoined   Kind = "user_joined"
	KindUserLeft     Kind = "user_left"
	KindOnlineCount  Kind = "online_count"
	KindUserStatus   Kind = "user_status"
	KindUsersList    Kind = "users_list"
	KindClearChat    Kind = "clear_chat"
	KindHeartbeat    Kind = "heartbeat"
	KindHeartbeatAck Kind = "heartbeat_ack"
	KindError        Kind = "error"
)

// Error codes carried in Error frames.
const (
	CodeBadFrame        = "bad_frame"
	CodeNameInUse       = "name_in_use"
	CodeInvalidName     = "invalid_name"
	CodeNotJoined       = "not_joined"
	CodeClearRefused    = "clear_refused"
	CodeUnexpectedFrame = "unexpected_frame"
)

// Frame is the closed set of wire frames. The unexported method keeps the set
// sealed to this package.
type Frame interface {
	Kind() Kind
	validate() error
}

type Join struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

type History struct {
	Messages []MessageRecord `json:"messages"`
}

type UserJoined struct {
	Username    string `json:"username"`
	OnlineCount int    `json:"onlineCount"`
	Timestamp   int64  `json:"timestamp"`
}

type UserLeft struct {
	Username    string `json:"username"`
	OnlineCount int    `json:"onlineCount"`
	Timestamp   int64  `json:"timestamp"`
}

type OnlineCount struct {
	Count     int   `json:"count"`
	Timestamp int64 `json:"timestamp"`
}

type UserStatus struct {
	Username  string   `json:"username"`
	Status    Presence `json:"status"`
	Timestamp int64    `json:"timestamp"`
}

type UsersList struct {
	Users []UserPresence `json:"users"`
}

type ClearChat struct {
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

type HeartbeatAck struct {
	Timestamp int64 `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (Join) Kind() Kind         { return KindJoin }
func (Message) Kind() Kind      { return KindMessage }
func (History) Kind() Kind      { return KindHistory }
func (UserJoined) Kind() Kind   { return KindUserJoined }
func (UserLeft) Kind() Kind     { return KindUserLeft }
func (OnlineCount) Kind() Kind  { return KindOnlineCount }
func (UserStatus) Kind() Kind   { return KindUserStatus }
func (UsersList) Kind() Kind    { return KindUsersList }
func (ClearChat) Kind() Kind    { return KindClearChat }
func (Heartbeat) Kind() Kind    { return KindHeartbeat }
func (HeartbeatAck) Kind() Kind { return KindHeartbeatAck }
func (Error) Kind() Kind        { return KindError }

func (f Join) validate() error       { return require(f.Username != "", "username") }
func (f Message) validate() error    { return require(f.Text != "", "text") }
func (History) validate() error      { return nil }
func (f UserJoined) validate() error { return require(f.Username != "", "username") }
func (f UserLeft) validate() error   { return require(f.Username != "", "username") }
func (OnlineCount) validate() error  { return nil }
func (f UserStatus) validate() error { return require(f.Status.Valid(), "status") }
func (UsersList) validate() error    { return nil }
func (ClearChat) validate() error    { return nil }
func (Heartbeat) validate() error    { return nil }
func (HeartbeatAck) validate() error { return nil }
func (f Error) validate() error      { return require(f.Message != "", "message") }

// Record converts a message frame to a record.
func (f Message) Record() MessageRecord {
	return MessageRecord{ID: f.ID, Text: f.Text, Author: f.Username, Timestamp: f.Timestamp}
}

// MessageFrame converts a record to its wire frame.
func MessageFrame(r MessageRecord) Message {
	return Message{ID: r.ID, Text: r.Text, Username: r.Author, Timestamp: r.Timestamp}
}
