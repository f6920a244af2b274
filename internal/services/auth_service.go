// Package services – AuthService
//
// This file implements the AuthService, which registers and authenticates
// users. It normalizes the username into the single case-insensitive key the
// store and the protocol share, enforces credential length limits, and
// delegates hashing to the security package. Predictable failures come back
// as CodedError so the transport can emit the matching ERROR frame.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/protocol"
	"github.com/tbourn/go-chat-server/internal/repo"
)

// Credential length limits, in runes.
const (
	UsernameMinLen = 3
	UsernameMaxLen = 50
	PasswordMinLen = 6
	PasswordMaxLen = 100
)

// PasswordHasher is the hashing contract required by AuthService.
type PasswordHasher interface {
	// Hash derives a self-describing hash string from a plaintext password.
	Hash(plain string) (string, error)

	// Verify reports whether plain matches the stored hash. It never panics
	// on malformed input.
	Verify(plain, stored string) bool
}

// AuthService provides user registration and login on top of the user store.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Hasher derives and verifies password hashes.
	Hasher PasswordHasher
}

// NewAuthService wires an AuthService over the given handle and hasher.
func NewAuthService(db *gorm.DB, hasher PasswordHasher) *AuthService {
	return &AuthService{DB: db, Hasher: hasher}
}

// Register creates a new user and returns the stored record.
// Failure codes: VALIDATION_ERROR, USER_EXISTS, DATABASE_ERROR, INTERNAL_ERROR.
func (s *AuthService) Register(ctx context.Context, username, password string) (*domain.User, error) {
	uname, pass, err := normalizeCredentials(username, password)
	if err != nil {
		return nil, err
	}

	exists, err := repo.UserExistsByUsername(ctx, s.DB, uname)
	if err != nil {
		return nil, wrapStoreErr(err, "could not check username")
	}
	if exists {
		return nil, coded(protocol.CodeUserExists, "user already exists")
	}

	hash, err := s.Hasher.Hash(pass)
	if err != nil {
		return nil, codedWrap(protocol.CodeInternalError, "internal server error", err)
	}

	user := &domain.User{Username: uname, PasswordHash: hash}
	if err := repo.SaveUser(ctx, s.DB, user); err != nil {
		return nil, wrapStoreErr(err, "could not save user")
	}
	return user, nil
}

// Login authenticates an existing user and returns the stored record.
// Failure codes: VALIDATION_ERROR, USER_NOT_FOUND, INVALID_PASSWORD,
// DATABASE_ERROR, INTERNAL_ERROR.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.User, error) {
	uname, pass, err := normalizeCredentials(username, password)
	if err != nil {
		return nil, err
	}

	user, err := repo.FindUserByUsername(ctx, s.DB, uname)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, coded(protocol.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, wrapStoreErr(err, "could not load user")
	}

	if !s.Hasher.Verify(pass, user.PasswordHash) {
		return nil, coded(protocol.CodeInvalidPassword, "invalid password")
	}
	return user, nil
}

// normalizeCredentials trims both values, folds the username to its
// case-insensitive key, and enforces the length limits.
func normalizeCredentials(username, password string) (uname, pass string, err error) {
	uname = strings.TrimSpace(username)
	pass = strings.TrimSpace(password)
	if uname == "" || pass == "" {
		return "", "", coded(protocol.CodeValidationError, "username and password are required")
	}

	uname = cases.Fold().String(uname)

	if n := utf8.RuneCountInString(uname); n < UsernameMinLen || n > UsernameMaxLen {
		return "", "", coded(protocol.CodeValidationError, "username must be 3..50 characters")
	}
	if n := utf8.RuneCountInString(pass); n < PasswordMinLen || n > PasswordMaxLen {
		return "", "", coded(protocol.CodeValidationError, "password must be 6..100 characters")
	}
	return uname, pass, nil
}
