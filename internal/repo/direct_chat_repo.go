// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the DirectChat
// pairing.
//
// The pair is always stored ordered (min, max), which makes the lookup
// symmetric and rules out self-DMs at the persistence boundary. When two
// sessions race to create the first DM for the same pair, exactly one insert
// survives the unique constraint; the loser re-reads the winning room and
// reclaims its own now-orphan DM room.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
)

// orderedPair validates and orders two user ids as (low, high).
func orderedPair(a, b int64) (low, high int64, err error) {
	if a <= 0 || b <= 0 {
		return 0, 0, invalidf("user ids must be > 0")
	}
	if a == b {
		return 0, 0, invalidf("cannot pair a user with themselves")
	}
	if a < b {
		return a, b, nil
	}
	return b, a, nil
}

// FindDMRoomID returns the DM room id bound to the (a,b) pair, in either
// argument order, or ErrNotFound when the users were never paired.
func FindDMRoomID(ctx context.Context, db *gorm.DB, a, b int64) (int64, error) {
	low, high, err := orderedPair(a, b)
	if err != nil {
		return 0, err
	}

	var dc domain.DirectChat
	dbErr := db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&dc).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if dbErr != nil {
		return 0, storageErr("find dm room", dbErr)
	}
	return dc.ChatRoomID, nil
}

// CreateDirectChat binds the pre-created DM room to the (a,b) pair and
// returns the room id that ends up owning the pair. If a concurrent writer
// bound the pair first, the existing room id is returned and the caller's
// orphan room is deleted best-effort (only while still typed DM).
func CreateDirectChat(ctx context.Context, db *gorm.DB, a, b, roomID int64) (int64, error) {
	low, high, err := orderedPair(a, b)
	if err != nil {
		return 0, err
	}
	if roomID <= 0 {
		return 0, invalidf("room id must be > 0")
	}

	dc := domain.DirectChat{ChatRoomID: roomID, UserLowID: low, UserHighID: high}
	if insertErr := db.WithContext(ctx).Create(&dc).Error; insertErr != nil {
		existing, findErr := FindDMRoomID(ctx, db, low, high)
		if findErr != nil {
			return 0, storageErr("create dm pairing", insertErr)
		}
		if existing != roomID {
			deleteOrphanDMRoom(ctx, db, roomID)
		}
		return existing, nil
	}
	return roomID, nil
}

// deleteOrphanDMRoom reclaims a DM room that lost the pairing race. Failure
// is tolerated: the orphan is unreachable because no pairing references it.
func deleteOrphanDMRoom(ctx context.Context, db *gorm.DB, roomID int64) {
	db.WithContext(ctx).
		Where("id = ? AND room_type = ?", roomID, domain.RoomTypeDM).
		Delete(&domain.ChatRoom{})
}

// AddRoomMember records membership provenance in user_chat_room. The row is
// informational; duplicates are ignored.
func AddRoomMember(ctx context.Context, db *gorm.DB, userID, roomID int64) error {
	if userID <= 0 || roomID <= 0 {
		return invalidf("ids must be > 0")
	}
	m := domain.UserChatRoom{UserID: userID, ChatRoomID: roomID, JoinedAt: time.Now()}
	if err := db.WithContext(ctx).Create(&m).Error; err != nil {
		// Already a member: the composite primary key makes re-joins a no-op.
		var existing domain.UserChatRoom
		if db.WithContext(ctx).
			Where("user_id = ? AND chat_room_id = ?", userID, roomID).
			First(&existing).Error == nil {
			return nil
		}
		return storageErr("add room member", err)
	}
	return nil
}
