// Package services – ChatService
//
// This file implements the ChatService, which persists and replays room and
// direct messages. Public rooms are created lazily on first reference. DM
// threads live in synthetic DM-typed rooms bound to an ordered user pair;
// the pairing is created on the first message between two users and reused
// afterwards, whichever side writes first.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/protocol"
	"github.com/tbourn/go-chat-server/internal/repo"
)

// ChatService provides message posting and history replay for rooms and DMs.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// DefaultRoom is used when a frame omits the room name.
	DefaultRoom string
	// HistoryLimit is used when a history request omits or zeroes the limit.
	HistoryLimit int
}

// NewChatService wires a ChatService with the protocol defaults.
func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{
		DB:           db,
		DefaultRoom:  protocol.DefaultRoom,
		HistoryLimit: protocol.DefaultHistoryLimit,
	}
}

// PostToRoom persists a public-room message and returns the resolved room
// name. A blank room falls back to the default room; the room is created on
// first use.
func (s *ChatService) PostToRoom(ctx context.Context, senderID int64, room, content string, sentAt time.Time) (string, error) {
	name := s.resolveRoomName(room)

	roomID, err := repo.CreateRoom(ctx, s.DB, name)
	if err != nil {
		return "", wrapStoreErr(err, "could not resolve room")
	}
	if _, err := repo.SaveMessage(ctx, s.DB, roomID, senderID, content, sentAt); err != nil {
		return "", wrapStoreErr(err, "could not save message")
	}
	return name, nil
}

// PostDirect persists a direct message from sender to the named peer and
// returns the peer's stored record. The DM room and pairing are created on
// the first message between the two users.
// Failure codes: VALIDATION_ERROR, USER_NOT_FOUND, DATABASE_ERROR,
// INTERNAL_ERROR.
func (s *ChatService) PostDirect(ctx context.Context, sender *domain.User, peerName, content string, sentAt time.Time) (*domain.User, error) {
	peer, err := s.resolvePeer(ctx, sender, peerName)
	if err != nil {
		return nil, err
	}

	roomID, err := s.ensureDirectRoom(ctx, sender.ID, peer.ID)
	if err != nil {
		return nil, err
	}
	if _, err := repo.SaveMessage(ctx, s.DB, roomID, sender.ID, content, sentAt); err != nil {
		return nil, wrapStoreErr(err, "could not save message")
	}
	return peer, nil
}

// RoomHistory returns up to limit stored messages for the room in ascending
// order, along with the resolved room name. Like PostToRoom, the room is
// created on first reference, so a never-written room yields an empty
// history from a now-existing room.
func (s *ChatService) RoomHistory(ctx context.Context, room string, limit int) (string, []repo.HistoryEntry, error) {
	name := s.resolveRoomName(room)

	roomID, err := repo.CreateRoom(ctx, s.DB, name)
	if err != nil {
		return "", nil, wrapStoreErr(err, "could not resolve room")
	}

	entries, err := repo.LoadHistory(ctx, s.DB, roomID, s.resolveLimit(limit))
	if err != nil {
		return "", nil, wrapStoreErr(err, "could not load history")
	}
	return name, entries, nil
}

// DirectHistory returns up to limit stored messages of the DM thread between
// user and the named peer, along with the peer's stored username. Users who
// never exchanged a message get an empty history.
// Failure codes: VALIDATION_ERROR, USER_NOT_FOUND, DATABASE_ERROR,
// INTERNAL_ERROR.
func (s *ChatService) DirectHistory(ctx context.Context, user *domain.User, peerName string, limit int) (string, []repo.HistoryEntry, error) {
	peer, err := s.resolvePeer(ctx, user, peerName)
	if err != nil {
		return "", nil, err
	}

	roomID, err := repo.FindDMRoomID(ctx, s.DB, user.ID, peer.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return peer.Username, []repo.HistoryEntry{}, nil
	}
	if err != nil {
		return "", nil, wrapStoreErr(err, "could not resolve direct chat")
	}

	entries, err := repo.LoadHistory(ctx, s.DB, roomID, s.resolveLimit(limit))
	if err != nil {
		return "", nil, wrapStoreErr(err, "could not load history")
	}
	for i := range entries {
		// To is the other user of the pair, relative to the sender.
		if entries[i].From == peer.Username {
			entries[i].To = user.Username
		} else {
			entries[i].To = peer.Username
		}
	}
	return peer.Username, entries, nil
}

// JoinDefaultRoom records membership of the user in the default room. The
// row is provenance only; callers may treat failures as non-fatal.
func (s *ChatService) JoinDefaultRoom(ctx context.Context, userID int64) error {
	roomID, err := repo.CreateRoom(ctx, s.DB, s.resolveRoomName(""))
	if err != nil {
		return wrapStoreErr(err, "could not resolve room")
	}
	if err := repo.AddRoomMember(ctx, s.DB, userID, roomID); err != nil {
		return wrapStoreErr(err, "could not record membership")
	}
	return nil
}

// resolvePeer looks up the peer by its case-insensitive username and rejects
// self-addressed direct traffic.
func (s *ChatService) resolvePeer(ctx context.Context, sender *domain.User, peerName string) (*domain.User, error) {
	name := cases.Fold().String(strings.TrimSpace(peerName))
	if name == "" {
		return nil, coded(protocol.CodeValidationError, "peer is required")
	}
	if sender != nil && name == sender.Username {
		return nil, coded(protocol.CodeValidationError, "cannot address yourself")
	}

	peer, err := repo.FindUserByUsername(ctx, s.DB, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, coded(protocol.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, wrapStoreErr(err, "could not load user")
	}
	return peer, nil
}

// ensureDirectRoom returns the DM room for the pair, creating the room, the
// pairing, and the membership rows on first contact. Losing the pairing race
// is handled inside the repository; this method always returns the surviving
// room.
func (s *ChatService) ensureDirectRoom(ctx context.Context, a, b int64) (int64, error) {
	if roomID, err := repo.FindDMRoomID(ctx, s.DB, a, b); err == nil {
		return roomID, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return 0, wrapStoreErr(err, "could not resolve direct chat")
	}

	roomID, err := repo.CreateDirectRoom(ctx, s.DB)
	if err != nil {
		return 0, wrapStoreErr(err, "could not create direct chat")
	}
	roomID, err = repo.CreateDirectChat(ctx, s.DB, a, b, roomID)
	if err != nil {
		return 0, wrapStoreErr(err, "could not create direct chat")
	}

	// Provenance rows; duplicates on the racing path are tolerated.
	for _, uid := range []int64{a, b} {
		if err := repo.AddRoomMember(ctx, s.DB, uid, roomID); err != nil {
			return 0, wrapStoreErr(err, "could not record membership")
		}
	}
	return roomID, nil
}

func (s *ChatService) resolveRoomName(room string) string {
	if name := strings.TrimSpace(room); name != "" {
		return name
	}
	if s.DefaultRoom != "" {
		return s.DefaultRoom
	}
	return protocol.DefaultRoom
}

func (s *ChatService) resolveLimit(limit int) int {
	if limit > 0 {
		return limit
	}
	if s.HistoryLimit > 0 {
		return s.HistoryLimit
	}
	return protocol.DefaultHistoryLimit
}
