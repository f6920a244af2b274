// Package domain defines the persistence models for users, chat rooms,
// direct-chat pairings, and messages. These types are mapped with GORM and
// form the core data layer of the chat server.
package domain

import (
	"time"
)

// Room types stored in chat_room.room_type.
const (
	RoomTypeRoom = "ROOM" // public, addressed by human-visible name
	RoomTypeDM   = "DM"   // bound to exactly one user pair via direct_chat
)

// DefaultRoom is the public room every client lands in after authentication.
const DefaultRoom = "General"

// User is a registered account. The username column is the case-normalized
// lowercase key; the stored form is what presence and history display.
//
// Fields:
//   - ID: stable numeric identity assigned by the store.
//   - Username: unique under case-insensitive comparison, 3–50 chars.
//   - PasswordHash: opaque self-describing hash (algorithm, iterations,
//     salt and digest embedded); never the plain password.
//   - CreatedAt: set on registration.
type User struct {
	ID           int64     `json:"id"            gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username"      gorm:"type:varchar(50);not null;uniqueIndex:ux_users_username"`
	PasswordHash string    `json:"-"             gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// ChatRoom is a persistent room row. Public rooms (room_type=ROOM) carry a
// human-visible name unique within the type; DM rooms carry a synthetic
// non-displayable name and are reachable only through a DirectChat pairing.
type ChatRoom struct {
	ID        int64     `json:"id"         gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex:ux_chat_room_name"`
	RoomType  string    `json:"room_type"  gorm:"type:varchar(8);not null;check:room_type IN ('ROOM','DM')"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ChatRoom.
func (ChatRoom) TableName() string { return "chat_room" }

// DirectChat binds a DM-type ChatRoom to an ordered user pair.
//
// Invariants: UserLowID < UserHighID (self-DM is impossible) and the pair is
// unique. The chat_room_id is the primary key; a DM room belongs to exactly
// one pairing.
type DirectChat struct {
	ChatRoomID int64 `json:"chat_room_id" gorm:"primaryKey"`
	UserLowID  int64 `json:"user_low_id"  gorm:"not null;uniqueIndex:ux_direct_chat_pair,priority:1;check:user_low_id < user_high_id"`
	UserHighID int64 `json:"user_high_id" gorm:"not null;uniqueIndex:ux_direct_chat_pair,priority:2"`

	// ChatRoom is the DM room this pairing owns.
	ChatRoom ChatRoom `json:"-" gorm:"foreignKey:ChatRoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DirectChat.
func (DirectChat) TableName() string { return "direct_chat" }

// Message is a single append-only utterance in a room (public or DM).
// Content is validated at insertion (trimmed, non-empty, ≤ 1000 chars)
// and never edited afterwards.
type Message struct {
	ID         int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	ChatRoomID int64     `json:"chat_room_id" gorm:"not null;index:idx_message_room,priority:1"`
	SenderID   int64     `json:"sender_id"    gorm:"not null"`
	Content    string    `json:"content"      gorm:"type:text;not null"`
	SentAt     time.Time `json:"sent_at"      gorm:"not null;index:idx_message_room,priority:2"`

	// Room and Sender are FK associations; messages go away with their room.
	Room   ChatRoom `json:"-" gorm:"foreignKey:ChatRoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Sender User     `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "message" }

// UserChatRoom records room membership provenance (who was ever attached to a
// room and when). It is written on registration and DM pairing and is never
// queried on the hot message path.
type UserChatRoom struct {
	UserID     int64     `json:"user_id"      gorm:"primaryKey"`
	ChatRoomID int64     `json:"chat_room_id" gorm:"primaryKey"`
	JoinedAt   time.Time `json:"joined_at"`
}

// TableName returns the database table name for UserChatRoom.
func (UserChatRoom) TableName() string { return "user_chat_room" }
