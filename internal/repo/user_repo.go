// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// The username lookup key is normalized here (trim + lowercase) so every
// caller observes the same case-insensitive identity.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
)

// FindUserByUsername returns the user stored under the normalized username,
// or ErrNotFound. Empty input (after trimming) never matches.
func FindUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	uname := normalizeUsernameKey(username)
	if uname == "" {
		return nil, ErrNotFound
	}

	var u domain.User
	err := db.WithContext(ctx).Where("username = ?", uname).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("find user by username "+uname, err)
	}
	return &u, nil
}

// UserExistsByUsername is the boolean form of FindUserByUsername.
func UserExistsByUsername(ctx context.Context, db *gorm.DB, username string) (bool, error) {
	uname := normalizeUsernameKey(username)
	if uname == "" {
		return false, nil
	}

	var count int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("username = ?", uname).
		Count(&count).Error
	if err != nil {
		return false, storageErr("check user exists "+uname, err)
	}
	return count > 0, nil
}

// SaveUser inserts the user when ID is zero, otherwise updates the row.
// On insert the store assigns the ID and CreatedAt defaults to now when unset.
// Blank username or password hash is rejected before touching the store.
func SaveUser(ctx context.Context, db *gorm.DB, user *domain.User) error {
	if user == nil {
		return invalidf("user must not be nil")
	}
	user.Username = strings.TrimSpace(user.Username)
	if user.Username == "" {
		return invalidf("username must not be blank")
	}
	if strings.TrimSpace(user.PasswordHash) == "" {
		return invalidf("password hash must not be blank")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	if user.ID == 0 {
		if err := db.WithContext(ctx).Create(user).Error; err != nil {
			return storageErr("insert user "+user.Username, err)
		}
		return nil
	}

	if err := db.WithContext(ctx).Save(user).Error; err != nil {
		return storageErr("update user "+user.Username, err)
	}
	return nil
}

// normalizeUsernameKey produces the unique lookup key: trimmed, lowercased.
func normalizeUsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
