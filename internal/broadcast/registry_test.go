package broadcast

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/tbourn/go-chat-server/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is an in-memory net.Conn half that records written frames.
type fakeConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	failed bool
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failed {
		return 0, errors.New("connection closed")
	}
	return f.buf.Write(p)
}

func (f *fakeConn) Read(p []byte) (int, error) { return 0, errors.New("not readable") }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) fail() {
	f.mu.Lock()
	f.failed = true
	f.mu.Unlock()
}

func (f *fakeConn) raw() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

func (f *fakeConn) lines(t *testing.T) []protocol.Envelope {
	t.Helper()
	raw := f.raw()

	var out []protocol.Envelope
	sc := bufio.NewScanner(bytes.NewReader([]byte(raw)))
	for sc.Scan() {
		env, err := protocol.DecodeLine(sc.Bytes())
		if err != nil {
			t.Fatalf("recorded frame invalid: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (f *fakeConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (f *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestRegistry() *Registry {
	return NewRegistry(zerolog.Nop())
}

func addSession(r *Registry, id int64, username string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	c := NewClient(id, conn)
	r.Add(c)
	if username != "" {
		r.Bind(id, username)
	}
	return c, conn
}

func TestRegistry_OnlineTracking(t *testing.T) {
	r := newTestRegistry()
	addSession(r, 1, "alice")
	addSession(r, 2, "")
	addSession(r, 3, "bob")
	addSession(r, 4, "bob") // second session, same user

	if got := r.OnlineCount(); got != 3 {
		t.Fatalf("OnlineCount = %d, want 3", got)
	}
	if got := r.OnlineUsers(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("OnlineUsers = %v", got)
	}

	r.Remove(1)
	if got := r.OnlineCount(); got != 2 {
		t.Fatalf("after remove OnlineCount = %d", got)
	}
}

func TestRegistry_BroadcastReachesAnonymous(t *testing.T) {
	r := newTestRegistry()
	_, aliceConn := addSession(r, 1, "alice")
	_, anonConn := addSession(r, 2, "")

	env := protocol.MustEnvelope(protocol.TypeUserPresence, protocol.UserPresence{
		Event: protocol.PresenceJoined, Username: "alice", OnlineCount: 1,
	})
	r.Broadcast(env)

	if got := aliceConn.lines(t); len(got) != 1 || got[0].Type != protocol.TypeUserPresence {
		t.Fatalf("alice frames = %+v", got)
	}
	if got := anonConn.lines(t); len(got) != 1 || got[0].Type != protocol.TypeUserPresence {
		t.Fatalf("broadcasts go to every session, bound or not: %+v", got)
	}
	// Every recipient gets the same rendered bytes.
	if aliceConn.raw() != anonConn.raw() {
		t.Fatalf("frames differ across recipients:\n%q\n%q", aliceConn.raw(), anonConn.raw())
	}
	// The unauthenticated session still does not count as online.
	if got := r.OnlineCount(); got != 1 {
		t.Fatalf("OnlineCount = %d, want 1", got)
	}
}

func TestRegistry_BroadcastIncludesSender(t *testing.T) {
	r := newTestRegistry()
	_, aliceConn := addSession(r, 1, "alice")
	_, bobConn := addSession(r, 2, "bob")

	env := protocol.ErrorEnvelope(protocol.CodeInternalError, "x")
	r.Broadcast(env)

	for name, conn := range map[string]*fakeConn{"alice": aliceConn, "bob": bobConn} {
		if got := conn.lines(t); len(got) != 1 {
			t.Fatalf("%s frames = %d, want 1", name, len(got))
		}
	}
}

func TestRegistry_SendToUser(t *testing.T) {
	r := newTestRegistry()
	_, bob1 := addSession(r, 1, "bob")
	_, bob2 := addSession(r, 2, "bob")
	_, aliceConn := addSession(r, 3, "alice")

	env := protocol.ErrorEnvelope(protocol.CodeInternalError, "x")
	if !r.SendToUser("BOB", env) {
		t.Fatal("SendToUser must match case-insensitively")
	}
	if len(bob1.lines(t)) != 1 {
		t.Fatal("the earliest bob session must receive the frame")
	}
	if len(bob2.lines(t)) != 0 {
		t.Fatal("only the earliest matching session is addressed")
	}
	if len(aliceConn.lines(t)) != 0 {
		t.Fatal("alice must not receive a frame addressed to bob")
	}

	if r.SendToUser("ghost", env) {
		t.Fatal("delivery to an offline user must report false")
	}
	if r.SendToUser("   ", env) {
		t.Fatal("blank username must report false")
	}
}

func TestRegistry_BroadcastExcept(t *testing.T) {
	r := newTestRegistry()
	_, aliceConn := addSession(r, 1, "alice")
	_, bobConn := addSession(r, 2, "bob")

	env := protocol.ErrorEnvelope(protocol.CodeInternalError, "x")
	r.BroadcastExcept(1, env)

	if got := aliceConn.lines(t); len(got) != 0 {
		t.Fatalf("excluded session received %d frames", len(got))
	}
	if got := bobConn.lines(t); len(got) != 1 {
		t.Fatalf("bob frames = %d, want 1", len(got))
	}
}

func TestRegistry_SendToClient(t *testing.T) {
	r := newTestRegistry()
	_, aliceConn := addSession(r, 1, "alice")

	env := protocol.ErrorEnvelope(protocol.CodeInternalError, "x")
	if !r.SendToClient(1, env) {
		t.Fatal("delivery to a live session must report true")
	}
	if len(aliceConn.lines(t)) != 1 {
		t.Fatal("session must receive the frame")
	}
	if r.SendToClient(99, env) {
		t.Fatal("unknown session id must report false")
	}

	aliceConn.fail()
	if r.SendToClient(1, env) {
		t.Fatal("failed write must report false")
	}
	if got := r.OnlineCount(); got != 0 {
		t.Fatalf("failed session must be evicted, OnlineCount = %d", got)
	}
}

func TestRegistry_EvictsOnWriteFailure(t *testing.T) {
	r := newTestRegistry()
	_, aliceConn := addSession(r, 1, "alice")
	_, bobConn := addSession(r, 2, "bob")
	bobConn.fail()

	env := protocol.ErrorEnvelope(protocol.CodeInternalError, "x")
	r.Broadcast(env)

	if len(aliceConn.lines(t)) != 1 {
		t.Fatal("healthy session must still be served")
	}
	if got := r.OnlineCount(); got != 1 {
		t.Fatalf("dead session must be evicted, OnlineCount = %d", got)
	}
	if r.SendToUser("bob", env) {
		t.Fatal("evicted session must be unreachable")
	}
}

func TestRegistry_RemoveUnknownIsNil(t *testing.T) {
	r := newTestRegistry()
	if c := r.Remove(42); c != nil {
		t.Fatalf("Remove(unknown) = %+v", c)
	}
}

func TestRegistry_ConcurrentFanOut(t *testing.T) {
	r := newTestRegistry()
	for i := int64(1); i <= 8; i++ {
		addSession(r, i, fmt.Sprintf("user%d", i))
	}
	env := protocol.ErrorEnvelope(protocol.CodeInternalError, "x")

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Broadcast(env)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(100); i < 150; i++ {
			c, _ := addSession(r, i, "churn")
			r.Remove(c.ID)
		}
	}()
	wg.Wait()

	if got := r.OnlineCount(); got != 8 {
		t.Fatalf("OnlineCount = %d, want 8", got)
	}
}
