package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/protocol"
	"github.com/tbourn/go-chat-server/internal/repo"
	"github.com/tbourn/go-chat-server/internal/security"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// Fewer iterations keep the auth tests fast; the hash format is unchanged.
func newTestAuth(db *gorm.DB) *AuthService {
	return NewAuthService(db, security.NewHasherWithIterations(1000))
}

func mustRegister(t *testing.T, auth *AuthService, username, password string) *domain.User {
	t.Helper()
	u, err := auth.Register(context.Background(), username, password)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

// ---------- auth ----------

func TestAuthService_RegisterNormalizesAndHashes(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)

	u, err := auth.Register(context.Background(), "  Alice  ", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("username = %q, want folded key", u.Username)
	}
	if u.PasswordHash == "secret1" || u.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}
	if !auth.Hasher.Verify("secret1", u.PasswordHash) {
		t.Fatal("stored hash must verify the original password")
	}
}

func TestAuthService_RegisterDuplicate(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	mustRegister(t, auth, "alice", "secret1")

	// Same identity under case folding.
	_, err := auth.Register(context.Background(), "ALICE", "other-secret")
	if ErrorCode(err) != protocol.CodeUserExists {
		t.Fatalf("code = %q, err = %v", ErrorCode(err), err)
	}
}

func TestAuthService_ValidationCodes(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"blank username", "   ", "secret1"},
		{"blank password", "alice", "   "},
		{"short username", "al", "secret1"},
		{"long username", strings.Repeat("a", 51), "secret1"},
		{"short password", "alice", "12345"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.Register(context.Background(), tc.username, tc.password)
			if ErrorCode(err) != protocol.CodeValidationError {
				t.Fatalf("register code = %q, err = %v", ErrorCode(err), err)
			}
			_, err = auth.Login(context.Background(), tc.username, tc.password)
			if ErrorCode(err) != protocol.CodeValidationError {
				t.Fatalf("login code = %q, err = %v", ErrorCode(err), err)
			}
		})
	}
}

func TestAuthService_LoginOutcomes(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	mustRegister(t, auth, "alice", "secret1")

	if _, err := auth.Login(context.Background(), "Alice", "secret1"); err != nil {
		t.Fatalf("login with different case: %v", err)
	}

	_, err := auth.Login(context.Background(), "ghost", "secret1")
	if ErrorCode(err) != protocol.CodeUserNotFound {
		t.Fatalf("unknown user code = %q", ErrorCode(err))
	}

	_, err = auth.Login(context.Background(), "alice", "wrong-pass")
	if ErrorCode(err) != protocol.CodeInvalidPassword {
		t.Fatalf("wrong password code = %q", ErrorCode(err))
	}
}

// ---------- room messaging ----------

func TestChatService_PostToRoomDefaultsAndReplays(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	chat := NewChatService(db)
	alice := mustRegister(t, auth, "alice", "secret1")

	room, err := chat.PostToRoom(context.Background(), alice.ID, "", "hello", time.Now())
	if err != nil {
		t.Fatalf("PostToRoom: %v", err)
	}
	if room != protocol.DefaultRoom {
		t.Fatalf("blank room resolved to %q", room)
	}

	name, entries, err := chat.RoomHistory(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("RoomHistory: %v", err)
	}
	if name != protocol.DefaultRoom || len(entries) != 1 {
		t.Fatalf("history = %q %+v", name, entries)
	}
	if entries[0].From != "alice" || entries[0].Content != "hello" {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestChatService_RoomHistoryCreatesRoomOnFirstReference(t *testing.T) {
	db := newServiceDB(t)
	chat := NewChatService(db)

	name, entries, err := chat.RoomHistory(context.Background(), "nowhere", 10)
	if err != nil {
		t.Fatalf("RoomHistory: %v", err)
	}
	if name != "nowhere" || len(entries) != 0 {
		t.Fatalf("history = %q %+v", name, entries)
	}

	// The history request itself brought the room into existence.
	if _, err := repo.FindRoomIDByName(context.Background(), db, "nowhere"); err != nil {
		t.Fatalf("room not created by history request: %v", err)
	}
}

func TestChatService_PostToRoomRejectsBadContent(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	chat := NewChatService(db)
	alice := mustRegister(t, auth, "alice", "secret1")

	_, err := chat.PostToRoom(context.Background(), alice.ID, "General", "   ", time.Now())
	if ErrorCode(err) != protocol.CodeValidationError {
		t.Fatalf("blank content code = %q", ErrorCode(err))
	}
}

// ---------- direct messaging ----------

func TestChatService_PostDirectCreatesAndReusesThread(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	chat := NewChatService(db)
	alice := mustRegister(t, auth, "alice", "secret1")
	bob := mustRegister(t, auth, "bob", "secret2")

	peer, err := chat.PostDirect(context.Background(), alice, "Bob", "hi bob", time.Now())
	if err != nil {
		t.Fatalf("first DM: %v", err)
	}
	if peer.ID != bob.ID {
		t.Fatalf("peer = %+v", peer)
	}

	// The reply reuses the same thread, no second pairing.
	if _, err := chat.PostDirect(context.Background(), bob, "alice", "hi alice", time.Now()); err != nil {
		t.Fatalf("reply DM: %v", err)
	}
	var pairings int64
	db.Model(&domain.DirectChat{}).Count(&pairings)
	if pairings != 1 {
		t.Fatalf("pairings = %d, want 1", pairings)
	}

	// Both sides replay the same thread.
	peerName, entries, err := chat.DirectHistory(context.Background(), alice, "bob", 0)
	if err != nil {
		t.Fatalf("DirectHistory: %v", err)
	}
	if peerName != "bob" || len(entries) != 2 {
		t.Fatalf("history = %q %+v", peerName, entries)
	}
	if entries[0].From != "alice" || entries[1].From != "bob" {
		t.Fatalf("order = %+v", entries)
	}
	// Each entry is addressed to the other user of the pair.
	if entries[0].To != "bob" || entries[1].To != "alice" {
		t.Fatalf("addressing = %+v", entries)
	}

	_, fromBob, err := chat.DirectHistory(context.Background(), bob, "ALICE", 0)
	if err != nil {
		t.Fatalf("DirectHistory(bob): %v", err)
	}
	if len(fromBob) != 2 {
		t.Fatalf("bob sees %d messages", len(fromBob))
	}
	// The projection is the same whichever side asks.
	if fromBob[0].To != "bob" || fromBob[1].To != "alice" {
		t.Fatalf("addressing for bob = %+v", fromBob)
	}
}

func TestChatService_PostDirectFailures(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	chat := NewChatService(db)
	alice := mustRegister(t, auth, "alice", "secret1")

	_, err := chat.PostDirect(context.Background(), alice, "ghost", "hi", time.Now())
	if ErrorCode(err) != protocol.CodeUserNotFound {
		t.Fatalf("unknown peer code = %q", ErrorCode(err))
	}

	_, err = chat.PostDirect(context.Background(), alice, "Alice", "hi me", time.Now())
	if ErrorCode(err) != protocol.CodeValidationError {
		t.Fatalf("self DM code = %q", ErrorCode(err))
	}

	_, err = chat.PostDirect(context.Background(), alice, "   ", "hi", time.Now())
	if ErrorCode(err) != protocol.CodeValidationError {
		t.Fatalf("blank peer code = %q", ErrorCode(err))
	}
}

func TestChatService_DirectHistoryEmptyBeforeFirstMessage(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	chat := NewChatService(db)
	alice := mustRegister(t, auth, "alice", "secret1")
	mustRegister(t, auth, "bob", "secret2")

	peer, entries, err := chat.DirectHistory(context.Background(), alice, "bob", 10)
	if err != nil {
		t.Fatalf("DirectHistory: %v", err)
	}
	if peer != "bob" || len(entries) != 0 {
		t.Fatalf("history = %q %+v", peer, entries)
	}
}

// ---------- membership ----------

func TestChatService_JoinDefaultRoom(t *testing.T) {
	db := newServiceDB(t)
	auth := newTestAuth(db)
	chat := NewChatService(db)
	alice := mustRegister(t, auth, "alice", "secret1")

	if err := chat.JoinDefaultRoom(context.Background(), alice.ID); err != nil {
		t.Fatalf("JoinDefaultRoom: %v", err)
	}
	// Re-joining stays a no-op.
	if err := chat.JoinDefaultRoom(context.Background(), alice.ID); err != nil {
		t.Fatalf("second JoinDefaultRoom: %v", err)
	}
	var rows int64
	db.Model(&domain.UserChatRoom{}).Count(&rows)
	if rows != 1 {
		t.Fatalf("membership rows = %d", rows)
	}
}

// ---------- error model ----------

func TestErrorCode_Fallback(t *testing.T) {
	if code := ErrorCode(errors.New("boom")); code != protocol.CodeInternalError {
		t.Fatalf("fallback code = %q", code)
	}
	if msg := ErrorMessage(errors.New("boom")); msg != "internal server error" {
		t.Fatalf("fallback message = %q", msg)
	}
	err := coded(protocol.CodeUserOffline, "recipient is offline")
	if ErrorCode(err) != protocol.CodeUserOffline || ErrorMessage(err) != "recipient is offline" {
		t.Fatalf("coded extraction failed: %v", err)
	}
}
