// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatRoom
// model.
//
// CreateRoom is idempotent: a public room is created lazily on first
// reference, and a unique-constraint race between two creators resolves by
// re-reading the winner's id. DM rooms get a synthetic technical name; they
// are never addressed by name, only through a direct_chat pairing.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
)

// FindRoomIDByName returns the id of the public room with the given name,
// scoped to room_type=ROOM, or ErrNotFound.
func FindRoomIDByName(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return 0, ErrNotFound
	}

	var room domain.ChatRoom
	err := db.WithContext(ctx).
		Select("id").
		Where("room_type = ? AND name = ?", domain.RoomTypeRoom, n).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storageErr("find room by name "+n, err)
	}
	return room.ID, nil
}

// CreateRoom returns the id of the public room with the given name, creating
// it if missing. When a concurrent creator wins the unique-constraint race,
// the existing id is re-read and returned.
func CreateRoom(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return 0, invalidf("room name must not be blank")
	}

	if id, err := FindRoomIDByName(ctx, db, n); err == nil {
		return id, nil
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	room := domain.ChatRoom{Name: n, RoomType: domain.RoomTypeRoom, CreatedAt: time.Now()}
	if err := db.WithContext(ctx).Create(&room).Error; err != nil {
		// Lost the race: another writer inserted the same name first.
		if id, findErr := FindRoomIDByName(ctx, db, n); findErr == nil {
			return id, nil
		}
		return 0, storageErr("create room "+n, err)
	}
	return room.ID, nil
}

// CreateDirectRoom inserts a DM-type room with an opaque technical name and
// returns its id. The caller binds it to a user pair via CreateDirectChat.
func CreateDirectRoom(ctx context.Context, db *gorm.DB) (int64, error) {
	room := domain.ChatRoom{
		Name:      "DM:TEMP:" + uuid.NewString(),
		RoomType:  domain.RoomTypeDM,
		CreatedAt: time.Now(),
	}
	if err := db.WithContext(ctx).Create(&room).Error; err != nil {
		return 0, storageErr("create direct room", err)
	}
	return room.ID, nil
}
