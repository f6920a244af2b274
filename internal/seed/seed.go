// Package seed populates a development database with demo users and a short
// greeting conversation in the default room. Seeding runs only in the dev
// environment and is idempotent: existing users and an already-populated
// room are left untouched.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-server/internal/protocol"
	"github.com/tbourn/go-chat-server/internal/services"
)

// DevPassword is the password of every seeded demo user.
const DevPassword = "123456"

// demoUsers are created on dev startup.
var demoUsers = []string{"alice", "bob", "ivan"}

// greeting is the conversation seeded into the default room, in order.
var greeting = []struct {
	username string
	content  string
}{
	{"alice", "Hi everyone!"},
	{"bob", "Hi, Alice!"},
	{"ivan", "How is it going?"},
}

// Dev seeds demo users through the auth service (so their hashes are real)
// and, when the default room is still empty, a greeting conversation.
// Individual failures are logged and skipped; seeding never aborts startup.
func Dev(ctx context.Context, auth *services.AuthService, chat *services.ChatService, log zerolog.Logger) {
	lg := log.With().Str("component", "seed").Logger()

	for _, username := range demoUsers {
		if _, err := auth.Register(ctx, username, DevPassword); err != nil {
			if services.ErrorCode(err) == protocol.CodeUserExists {
				continue
			}
			lg.Warn().Err(err).Str("username", username).Msg("dev user not created")
			continue
		}
		lg.Info().Str("username", username).Msg("dev user created")
	}

	if err := seedGreeting(ctx, auth, chat); err != nil {
		lg.Warn().Err(err).Msg("greeting conversation not seeded")
	}
}

func seedGreeting(ctx context.Context, auth *services.AuthService, chat *services.ChatService) error {
	_, entries, err := chat.RoomHistory(ctx, "", 1)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return nil
	}

	base := time.Now().Add(-time.Minute)
	for i, m := range greeting {
		user, err := auth.Login(ctx, m.username, DevPassword)
		if err != nil {
			// A pre-existing user with a different password cannot speak here.
			return errors.New("demo user unavailable: " + m.username)
		}
		if _, err := chat.PostToRoom(ctx, user.ID, "", m.content, base.Add(time.Duration(i)*time.Second)); err != nil {
			return err
		}
	}
	return nil
}
