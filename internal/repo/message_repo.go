// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model.
//
// Content validation lives here so the room and DM paths cannot diverge:
// both persist through SaveMessage and both read through LoadHistory.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
)

// MaxContentLen is the longest message content accepted at insertion time.
const MaxContentLen = 1000

// HistoryEntry is one projected history row: who sent what, and when. To is
// not stored with the message; the DM history path fills it with the other
// user of the pair, and it stays blank for room history.
type HistoryEntry struct {
	From    string
	To      string `gorm:"-"`
	Content string
	SentAt  time.Time
}

// SaveMessage appends a message to a room and returns the new message id.
// Content is trimmed and must be non-empty and at most MaxContentLen chars;
// ids must be positive and sentAt must be set.
func SaveMessage(ctx context.Context, db *gorm.DB, roomID, senderID int64, content string, sentAt time.Time) (int64, error) {
	if roomID <= 0 {
		return 0, invalidf("room id must be > 0")
	}
	if senderID <= 0 {
		return 0, invalidf("sender id must be > 0")
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return 0, invalidf("content must not be blank")
	}
	if len([]rune(text)) > MaxContentLen {
		return 0, invalidf("content exceeds the maximum length of %d", MaxContentLen)
	}
	if sentAt.IsZero() {
		return 0, invalidf("sentAt must be set")
	}

	m := domain.Message{ChatRoomID: roomID, SenderID: senderID, Content: text, SentAt: sentAt}
	if err := db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, storageErr("save message", err)
	}
	return m.ID, nil
}

// LoadHistory returns up to max(1, limit) messages for the room in ascending
// sent_at order, each joined with the sender's stored username.
func LoadHistory(ctx context.Context, db *gorm.DB, roomID int64, limit int) ([]HistoryEntry, error) {
	if roomID <= 0 {
		return nil, invalidf("room id must be > 0")
	}
	if limit < 1 {
		limit = 1
	}

	var out []HistoryEntry
	err := db.WithContext(ctx).
		Table("message AS m").
		Select("u.username AS `from`, m.content, m.sent_at").
		Joins("JOIN users u ON u.id = m.sender_id").
		Where("m.chat_room_id = ?", roomID).
		Order("m.sent_at ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, storageErr("load history", err)
	}
	return out, nil
}
