package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/VibeChessCore/internal/auth"
	"github.com/KevinKickass/VibeChessCore/internal/control"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type recordingIntake struct {
	mu    sync.Mutex
	lines []control.Line
	full  bool
}

func (r *recordingIntake) Submit(line control.Line) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.lines = append(r.lines, line)
	return true
}

func (r *recordingIntake) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

type staticValidator struct{ token string }

func (v staticValidator) ValidateToken(token string) (*auth.JWTClaims, error) {
	if token != v.token {
		return nil, auth.ErrInvalidToken
	}
	return &auth.JWTClaims{Username: "operator", Role: auth.RoleOperator}, nil
}

func startHub(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	hub := NewHub("test", zaptest.NewLogger(t), opts)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestHub_LinesReachIntake(t *testing.T) {
	intake := &recordingIntake{}
	hub, url := startHub(t, Options{Intake: intake})
	conn := dial(t, url)
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })

	if err := conn.WriteMessage(websocket.TextMessage, []byte("CMD id=1 type=home\n\nCMD id=2 type=confirm\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "two lines", func() bool { return intake.count() == 2 })

	intake.mu.Lock()
	defer intake.mu.Unlock()
	if intake.lines[0].Text != "CMD id=1 type=home" || intake.lines[1].Source != control.SourceWireless {
		t.Errorf("lines = %+v", intake.lines)
	}
}

func TestHub_SendReachesClients(t *testing.T) {
	hub, url := startHub(t, Options{})

	if err := hub.Send("status:ready"); err != nil {
		t.Fatalf("Send without clients: %v", err)
	}

	a := dial(t, url)
	b := dial(t, url)
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 2 })

	_ = hub.Send("ack:done 4")
	for _, c := range []*websocket.Conn{a, b} {
		if got := readText(t, c); got != "ack:done 4" {
			t.Errorf("got %q", got)
		}
	}
}

func TestHub_FullInboxRepliesBusy(t *testing.T) {
	hub, url := startHub(t, Options{Intake: &recordingIntake{full: true}})
	conn := dial(t, url)
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })

	_ = conn.WriteMessage(websocket.TextMessage, []byte("CMD id=9 type=home"))
	if got := readText(t, conn); got != "ack:error unknown busy" {
		t.Errorf("got %q", got)
	}
}

func TestHub_PublishJSON(t *testing.T) {
	hub, url := startHub(t, Options{})
	conn := dial(t, url)
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })

	hub.Publish("stage_changed", map[string]string{"stage": "pick_place"})

	var msg struct {
		Type MessageType       `json:"type"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal([]byte(readText(t, conn)), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != MessageTypeStageChanged || msg.Data["stage"] != "pick_place" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestHub_ClientCountCallback(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	hub, url := startHub(t, Options{OnClientsChanged: func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}})

	conn := dial(t, url)
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })
	conn.Close()
	waitFor(t, "unregistration", func() bool { return hub.ClientCount() == 0 })

	waitFor(t, "callbacks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if counts[0] != 1 || counts[1] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestHub_AuthHandshake(t *testing.T) {
	hub, url := startHub(t, Options{Auth: staticValidator{token: "good"}})

	bad := dial(t, url)
	_ = bad.WriteJSON(authMessage{Type: MessageTypeAuth, Token: "bad"})
	var resp Message
	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := bad.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != MessageTypeAuthFailed {
		t.Errorf("bad token: got %s", resp.Type)
	}

	good := dial(t, url)
	_ = good.WriteJSON(authMessage{Type: MessageTypeAuth, Token: "good"})
	good.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := good.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != MessageTypeAuthSuccess {
		t.Errorf("good token: got %s", resp.Type)
	}
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub("test", zaptest.NewLogger(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })

	cancel()
	<-done

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Errorf("expected close frame, got %v", err)
	}
}
