package tcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-chat-server/internal/broadcast"
	"github.com/tbourn/go-chat-server/internal/domain"
	"github.com/tbourn/go-chat-server/internal/protocol"
	"github.com/tbourn/go-chat-server/internal/repo"
	"github.com/tbourn/go-chat-server/internal/services"
)

// Deps bundles everything a session handler needs. One Deps value is shared
// by all handlers of a server.
type Deps struct {
	Auth     *services.AuthService
	Chat     *services.ChatService
	Registry *broadcast.Registry
	Log      zerolog.Logger

	// ReadTimeout bounds each blocking read so the loop can notice shutdown.
	// A timeout by itself never ends the session.
	ReadTimeout time.Duration

	// RateRPS/RateBurst throttle inbound frames per session. Zero RPS
	// disables throttling.
	RateRPS   float64
	RateBurst int
}

// Handler drives the state machine of one TCP session: anonymous until a
// successful AUTH_REQUEST, then routing chat traffic until LOGOUT or
// disconnect.
type Handler struct {
	id     int64
	conn   net.Conn
	client *broadcast.Client

	auth     *services.AuthService
	chat     *services.ChatService
	registry *broadcast.Registry
	log      zerolog.Logger

	readTimeout time.Duration
	limiter     *rate.Limiter

	user *domain.User
}

// NewHandler wraps an accepted connection into a session handler.
func NewHandler(id int64, conn net.Conn, deps Deps) *Handler {
	h := &Handler{
		id:          id,
		conn:        conn,
		client:      broadcast.NewClient(id, conn),
		auth:        deps.Auth,
		chat:        deps.Chat,
		registry:    deps.Registry,
		log:         deps.Log.With().Int64("session_id", id).Str("remote", conn.RemoteAddr().String()).Logger(),
		readTimeout: deps.ReadTimeout,
	}
	if h.readTimeout <= 0 {
		h.readTimeout = 2 * time.Second
	}
	if deps.RateRPS > 0 {
		burst := deps.RateBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(deps.RateRPS), burst)
	}
	return h
}

// Run owns the connection until the session ends. It registers the session,
// pumps frames through the dispatcher, and on exit evicts the session and
// announces the departure of an authenticated user.
func (h *Handler) Run(ctx context.Context) {
	tcpConns.Inc()
	tcpSessions.Inc()
	defer tcpSessions.Dec()

	h.registry.Add(h.client)
	h.log.Info().Msg("session started")

	defer func() {
		h.registry.Remove(h.id)
		if h.user != nil {
			h.broadcastPresence(protocol.PresenceLeft, h.user.Username)
		}
		_ = h.conn.Close()
		h.log.Info().Msg("session closed")
	}()

	h.readLoop(ctx)
}

// readLoop reads newline-delimited frames. Reads are bounded by the read
// timeout so shutdown is noticed promptly; a partial line survives timeouts
// and is completed on the next read.
func (h *Handler) readLoop(ctx context.Context) {
	reader := bufio.NewReader(h.conn)
	var pending []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		chunk, err := reader.ReadBytes('\n')
		pending = append(pending, chunk...)

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		line := pending
		pending = nil
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if stop := h.dispatch(ctx, line); stop {
			return
		}
	}
}

// dispatch parses one frame and routes it by type. It returns true when the
// session should end (LOGOUT).
func (h *Handler) dispatch(ctx context.Context, line []byte) bool {
	env, err := protocol.DecodeLine(line)
	if err != nil {
		h.log.Warn().Err(err).Msg("malformed frame")
		h.sendError(protocol.CodeInvalidJSON, "invalid JSON")
		return false
	}

	typ := strings.ToUpper(strings.TrimSpace(env.Type))
	if typ == "" {
		h.sendError(protocol.CodeInvalidRequest, "missing type field")
		return false
	}
	tcpFrames.WithLabelValues(frameLabel(typ)).Inc()

	switch typ {
	case protocol.TypeAuthRequest:
		h.onAuthRequest(ctx, env)
	case protocol.TypeChatMessage:
		h.onChatMessage(ctx, env)
	case protocol.TypeDirectMessage:
		h.onDirectMessage(ctx, env)
	case protocol.TypeHistoryRequest:
		h.onHistoryRequest(ctx, env)
	case protocol.TypeLogout:
		return h.onLogout()
	default:
		h.sendError(protocol.CodeUnknownType, "unknown message type: "+env.Type)
	}
	return false
}

// ------------------- processors -------------------

func (h *Handler) onAuthRequest(ctx context.Context, env protocol.Envelope) {
	var req protocol.AuthRequest
	if !h.bindData(env, &req) {
		return
	}

	action := strings.ToUpper(strings.TrimSpace(req.Action))
	if action == "" {
		h.sendError(protocol.CodeValidationError, "action is required (LOGIN|REGISTER)")
		return
	}

	var (
		user *domain.User
		err  error
	)
	switch action {
	case protocol.ActionRegister:
		user, err = h.auth.Register(ctx, req.Username, req.Password)
	case protocol.ActionLogin:
		user, err = h.auth.Login(ctx, req.Username, req.Password)
	default:
		h.sendError(protocol.CodeUnknownAction, "unknown action: "+req.Action)
		return
	}
	if err != nil {
		h.logServiceError(err, "auth failed")
		h.sendError(services.ErrorCode(err), services.ErrorMessage(err))
		return
	}

	// A repeated AUTH_REQUEST on the same session re-binds it.
	h.user = user
	h.registry.Bind(h.id, user.Username)

	if action == protocol.ActionRegister {
		if err := h.chat.JoinDefaultRoom(ctx, user.ID); err != nil {
			h.log.Warn().Err(err).Str("username", user.Username).Msg("default room membership not recorded")
		}
	}

	// Fixed greeting sequence: auth ok, room history, then presence.
	h.send(protocol.MustEnvelope(protocol.TypeAuthResponse, protocol.AuthResponse{Username: user.Username}))

	room, entries, err := h.chat.RoomHistory(ctx, "", 0)
	if err != nil {
		h.logServiceError(err, "greeting history failed")
		h.sendError(services.ErrorCode(err), services.ErrorMessage(err))
	} else {
		h.send(protocol.MustEnvelope(protocol.TypeHistoryResponse,
			historyResponse(protocol.ScopeRoom, room, "", entries)))
	}

	h.broadcastPresence(protocol.PresenceJoined, user.Username)
	h.log.Info().Str("username", user.Username).Str("action", action).Msg("authenticated")
}

func (h *Handler) onChatMessage(ctx context.Context, env protocol.Envelope) {
	if !h.requireAuthed() {
		return
	}
	var msg protocol.ChatMessage
	if !h.bindData(env, &msg) {
		return
	}

	content, ok := h.normalizeContent(msg.Content)
	if !ok {
		return
	}
	sentAt := msg.SentAt.Time
	if msg.SentAt.IsZero() {
		sentAt = time.Now()
	}

	room, err := h.chat.PostToRoom(ctx, h.user.ID, msg.Room, content, sentAt)
	if err != nil {
		h.logServiceError(err, "room message rejected")
		h.sendError(services.ErrorCode(err), services.ErrorMessage(err))
		return
	}

	h.registry.Broadcast(protocol.MustEnvelope(protocol.TypeChatMessage, protocol.ChatMessage{
		Room:    room,
		From:    h.user.Username,
		Content: content,
		SentAt:  protocol.NewLocalTime(sentAt),
	}))
	tcpMessages.WithLabelValues("room").Inc()
}

func (h *Handler) onDirectMessage(ctx context.Context, env protocol.Envelope) {
	if !h.requireAuthed() {
		return
	}
	var dm protocol.DirectMessage
	if !h.bindData(env, &dm) {
		return
	}

	if strings.TrimSpace(dm.To) == "" {
		h.sendError(protocol.CodeValidationError, "to is required")
		return
	}
	content, ok := h.normalizeContent(dm.Content)
	if !ok {
		return
	}
	sentAt := dm.SentAt.Time
	if dm.SentAt.IsZero() {
		sentAt = time.Now()
	}

	peer, err := h.chat.PostDirect(ctx, h.user, dm.To, content, sentAt)
	if err != nil {
		h.logServiceError(err, "direct message rejected")
		h.sendError(services.ErrorCode(err), services.ErrorMessage(err))
		return
	}

	out := protocol.MustEnvelope(protocol.TypeDirectMessage, protocol.DirectMessage{
		From:    h.user.Username,
		To:      peer.Username,
		Content: content,
		SentAt:  protocol.NewLocalTime(sentAt),
	})

	// The message is already persisted; an offline peer reads it from
	// history later. The sender always gets the echo.
	if !h.registry.SendToUser(peer.Username, out) {
		h.sendError(protocol.CodeUserOffline, "user is offline: "+peer.Username)
	}
	h.send(out)
	tcpMessages.WithLabelValues("dm").Inc()
}

func (h *Handler) onHistoryRequest(ctx context.Context, env protocol.Envelope) {
	if !h.requireAuthed() {
		return
	}
	var req protocol.HistoryRequest
	if !h.bindData(env, &req) {
		return
	}

	switch strings.ToUpper(strings.TrimSpace(req.Scope)) {
	case protocol.ScopeRoom:
		if strings.TrimSpace(req.Room) == "" {
			h.sendError(protocol.CodeValidationError, "room is required for scope=ROOM")
			return
		}
		room, entries, err := h.chat.RoomHistory(ctx, req.Room, req.Limit)
		if err != nil {
			h.logServiceError(err, "room history failed")
			h.sendError(services.ErrorCode(err), services.ErrorMessage(err))
			return
		}
		h.send(protocol.MustEnvelope(protocol.TypeHistoryResponse,
			historyResponse(protocol.ScopeRoom, room, "", entries)))

	case protocol.ScopeDM:
		if strings.TrimSpace(req.Peer) == "" {
			h.sendError(protocol.CodeValidationError, "peer is required for scope=DM")
			return
		}
		peer, entries, err := h.chat.DirectHistory(ctx, h.user, req.Peer, req.Limit)
		if err != nil {
			h.logServiceError(err, "direct history failed")
			h.sendError(services.ErrorCode(err), services.ErrorMessage(err))
			return
		}
		h.send(protocol.MustEnvelope(protocol.TypeHistoryResponse,
			historyResponse(protocol.ScopeDM, "", peer, entries)))

	default:
		h.sendError(protocol.CodeUnknownScope, "unknown scope: "+req.Scope)
	}
}

// onLogout removes the session from the registry before announcing the
// departure, so the broadcast onlineCount reflects the state after leaving.
func (h *Handler) onLogout() bool {
	if !h.requireAuthed() {
		return false
	}
	left := h.user.Username
	h.user = nil

	h.registry.Remove(h.id)
	h.broadcastPresence(protocol.PresenceLeft, left)
	_ = h.conn.Close()

	h.log.Info().Str("username", left).Msg("logged out")
	return true
}

// ------------------- helpers -------------------

func (h *Handler) requireAuthed() bool {
	if h.user != nil {
		return true
	}
	h.sendError(protocol.CodeUnauthorized, "authentication required")
	return false
}

func (h *Handler) bindData(env protocol.Envelope, v any) bool {
	err := env.Bind(v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, protocol.ErrEmptyData):
		h.sendError(protocol.CodeInvalidRequest, "data field is required")
	default:
		h.sendError(protocol.CodeInvalidRequest, "data field is malformed")
	}
	return false
}

func (h *Handler) normalizeContent(content string) (string, bool) {
	text := strings.TrimSpace(content)
	if text == "" {
		h.sendError(protocol.CodeValidationError, "content must not be blank")
		return "", false
	}
	if utf8.RuneCountInString(text) > protocol.MaxMessageLength {
		h.sendError(protocol.CodeValidationError, "content exceeds the maximum length of 1000")
		return "", false
	}
	return text, true
}

func (h *Handler) broadcastPresence(event, username string) {
	if username == "" {
		return
	}
	h.registry.Broadcast(protocol.MustEnvelope(protocol.TypeUserPresence, protocol.UserPresence{
		Event:       event,
		Username:    username,
		OnlineCount: h.registry.OnlineCount(),
	}))
}

func (h *Handler) send(env protocol.Envelope) {
	if err := h.client.Send(env); err != nil {
		h.log.Debug().Err(err).Str("type", env.Type).Msg("send failed")
	}
}

func (h *Handler) sendError(code, message string) {
	tcpErrors.WithLabelValues(code).Inc()
	h.send(protocol.ErrorEnvelope(code, message))
}

// logServiceError keeps noisy client mistakes at debug and real faults at
// error level.
func (h *Handler) logServiceError(err error, msg string) {
	switch services.ErrorCode(err) {
	case protocol.CodeDatabaseError, protocol.CodeInternalError:
		h.log.Error().Err(err).Msg(msg)
	default:
		h.log.Debug().Err(err).Msg(msg)
	}
}

func historyResponse(scope, room, peer string, entries []repo.HistoryEntry) protocol.HistoryResponse {
	resp := protocol.HistoryResponse{
		Scope:    scope,
		Messages: make([]protocol.HistoryEntryDTO, 0, len(entries)),
	}
	if scope == protocol.ScopeRoom {
		resp.Room = protocol.StringPtr(room)
	} else {
		resp.Peer = protocol.StringPtr(peer)
	}
	for _, e := range entries {
		dto := protocol.HistoryEntryDTO{
			From:    e.From,
			Content: e.Content,
			SentAt:  protocol.NewLocalTime(e.SentAt),
		}
		if scope == protocol.ScopeRoom {
			dto.Room = protocol.StringPtr(room)
		} else {
			dto.To = protocol.StringPtr(e.To)
		}
		resp.Messages = append(resp.Messages, dto)
	}
	return resp
}

// frameLabel collapses unknown frame types into one metrics bucket.
func frameLabel(typ string) string {
	switch typ {
	case protocol.TypeAuthRequest, protocol.TypeChatMessage, protocol.TypeDirectMessage,
		protocol.TypeHistoryRequest, protocol.TypeLogout:
		return typ
	default:
		return "UNKNOWN"
	}
}
