package chatclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chzyer/readline"

	"wepush/pkg/config"
	"wepush/pkg/filter"
)

func TestSidecarRoundTrips(t *testing.T) {
	var mu sync.Mutex
	var sentText, sentImage map[string]string
	var authHeader string

	mux := http.NewServeMux()
	mux.HandleFunc("/chats", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		authHeader = r.Header.Get("Authorization")
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"chats": []string{"Friends", "Alice"}})
	})
	mux.HandleFunc("/attach", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":{"Friends":[{"sender":"Alice","type":"friend","content":"hi"},{"sender":"SYS","type":"sys","content":"10:00"}]}}`))
	})
	mux.HandleFunc("/send/text", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&sentText)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	})
	mux.HandleFunc("/send/image", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&sentImage)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "window not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSidecar(config.SidecarConfig{URL: srv.URL + "/", Token: "tok", Timeout: 5 * time.Second})
	defer s.Close()
	ctx := context.Background()

	chats, err := s.ListChats(ctx)
	if err != nil || strings.Join(chats, ",") != "Friends,Alice" {
		t.Fatalf("ListChats = %v, %v", chats, err)
	}
	if authHeader != "Bearer tok" {
		t.Fatalf("Authorization header = %q", authHeader)
	}
	if ok, err := s.Attach(ctx, "Friends"); err != nil || !ok {
		t.Fatalf("Attach = %v, %v", ok, err)
	}

	msgs, err := s.PollNewMessages(ctx)
	if err != nil {
		t.Fatalf("PollNewMessages: %v", err)
	}
	friends := msgs["Friends"]
	if len(friends) != 2 {
		t.Fatalf("expected 2 messages, got %#v", msgs)
	}
	if friends[0].Sender != "Alice" || friends[0].Kind != filter.KindText || friends[0].ChatName != "Friends" {
		t.Fatalf("unexpected first message: %#v", friends[0])
	}
	if friends[1].Kind != filter.KindSystem {
		t.Fatalf("sys message kind = %q", friends[1].Kind)
	}

	if ok, err := s.SendText(ctx, "Friends", "hello"); err != nil || !ok {
		t.Fatalf("SendText = %v, %v", ok, err)
	}
	img := []byte{1, 2, 3}
	if ok, err := s.SendImage(ctx, "Friends", img); err != nil || ok {
		t.Fatalf("SendImage = %v, %v; want rejected without error", ok, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sentText["chat"] != "Friends" || sentText["text"] != "hello" {
		t.Fatalf("unexpected text body: %#v", sentText)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(sentImage["image"]); !bytes.Equal(decoded, img) {
		t.Fatalf("unexpected image body: %#v", sentImage)
	}
}

func TestSidecarHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "automation unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewSidecar(config.SidecarConfig{URL: srv.URL, Timeout: 5 * time.Second})
	_, err := s.SendText(context.Background(), "Friends", "hi")
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "automation unavailable") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestParseConsoleLine(t *testing.T) {
	cases := []struct {
		line   string
		chat   string
		sender string
		text   string
	}{
		{"Friends|Alice: hi there", "Friends", "Alice", "hi there"},
		{"Alice: hi", "console", "Alice", "hi"},
		{"just talking", "console", "console", "just talking"},
		{"note: ", "console", "console", "note:"},
		{"it is 10:30 now", "console", "console", "it is 10:30 now"},
		{"|Alice: hi", "console", "console", "|Alice: hi"},
	}
	for _, tc := range cases {
		msg, ok := parseConsoleLine(tc.line, "console")
		if !ok {
			t.Fatalf("parseConsoleLine(%q) rejected", tc.line)
		}
		if msg.ChatName != tc.chat || msg.Sender != tc.sender || msg.Content != tc.text {
			t.Fatalf("parseConsoleLine(%q) = %#v", tc.line, msg)
		}
	}
	if _, ok := parseConsoleLine("   ", "console"); ok {
		t.Fatalf("blank line should be ignored")
	}
}

func TestConsoleDeliversOnlyAttachedChats(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out, "console")
	ctx := context.Background()

	c.push("Friends|Alice: hi")
	c.push("Work|Bob: ping")
	if _, err := c.Attach(ctx, "Friends"); err != nil {
		t.Fatalf("attach: %v", err)
	}

	chats, _ := c.ListChats(ctx)
	if strings.Join(chats, ",") != "console,Friends,Work" {
		t.Fatalf("known chats = %v", chats)
	}

	msgs, _ := c.PollNewMessages(ctx)
	if len(msgs) != 1 || len(msgs["Friends"]) != 1 || msgs["Friends"][0].Content != "hi" {
		t.Fatalf("unexpected poll result: %#v", msgs)
	}
	if again, _ := c.PollNewMessages(ctx); len(again) != 0 {
		t.Fatalf("messages should be drained, got %#v", again)
	}

	_, _ = c.SendText(ctx, "Friends", "hello")
	_, _ = c.SendImage(ctx, "Friends", []byte{1, 2})
	want := "[Friends] <- hello\n[Friends] <- [image 2 bytes]\n"
	if out.String() != want {
		t.Fatalf("console output = %q, want %q", out.String(), want)
	}
}

func TestConsoleInterruptRequestsShutdown(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"ctrl-c", readline.ErrInterrupt},
		{"eof", io.EOF},
		{"read failure", errors.New("tty gone")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newConsole(&bytes.Buffer{}, "console")
			var _ Interrupter = c

			select {
			case <-c.Interrupted():
				t.Fatalf("interrupted before any input error")
			default:
			}

			c.handleReadError(tc.err)
			// A second error must not close the channel twice.
			c.handleReadError(tc.err)

			select {
			case <-c.Interrupted():
			case <-time.After(time.Second):
				t.Fatalf("%v did not request shutdown", tc.err)
			}
		})
	}
}
