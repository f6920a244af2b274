package protocol

// AuthRequest asks the server to authenticate or register a user.
type AuthRequest struct {
	Action   string `json:"action"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse confirms a successful LOGIN or REGISTER.
type AuthResponse struct {
	Username string `json:"username"`
}

// ChatMessage is a public-room message. Inbound frames carry room and
// content; the server stamps From and SentAt before fanning out. To is
// always null on the wire and exists so outbound frames carry the full
// message shape.
type ChatMessage struct {
	Room    string    `json:"room"`
	From    string    `json:"from"`
	To      *string   `json:"to"`
	Content string    `json:"content"`
	SentAt  LocalTime `json:"sentAt"`
}

// DirectMessage is a one-to-one message. Inbound frames carry to and
// content; the server stamps From and SentAt. Room is always null on the
// wire, mirroring ChatMessage.
type DirectMessage struct {
	Room    *string   `json:"room"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	SentAt  LocalTime `json:"sentAt"`
}

// HistoryRequest asks for stored messages, either for a public room
// (scope ROOM, room set) or a DM thread (scope DM, peer set).
type HistoryRequest struct {
	Scope string `json:"scope"`
	Room  string `json:"room,omitempty"`
	Peer  string `json:"peer,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// HistoryEntryDTO is one replayed message inside a HistoryResponse. Room is
// set for room entries and null for DM entries; To is the other user of the
// DM pair and null for room entries.
type HistoryEntryDTO struct {
	Room    *string   `json:"room"`
	From    string    `json:"from"`
	To      *string   `json:"to"`
	Content string    `json:"content"`
	SentAt  LocalTime `json:"sentAt"`
}

// HistoryResponse returns stored messages in ascending sentAt order. Room is
// set for ROOM scope, Peer for DM scope; the other is null.
type HistoryResponse struct {
	Scope    string            `json:"scope"`
	Room     *string           `json:"room"`
	Peer     *string           `json:"peer"`
	Messages []HistoryEntryDTO `json:"messages"`
}

// StringPtr boxes s for the nullable wire fields above.
func StringPtr(s string) *string { return &s }

// Presence events broadcast in UserPresence.Event.
const (
	PresenceJoined = "userJoined"
	PresenceLeft   = "userLeft"
)

// UserPresence announces a user joining or leaving, with the online count
// taken after the change.
type UserPresence struct {
	Event       string `json:"event"`
	Username    string `json:"username"`
	OnlineCount int    `json:"onlineCount"`
}

// ErrorPayload is the data object of an ERROR frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope builds a ready-to-send ERROR frame.
func ErrorEnvelope(code, message string) Envelope {
	return MustEnvelope(TypeError, ErrorPayload{Code: code, Message: message})
}
