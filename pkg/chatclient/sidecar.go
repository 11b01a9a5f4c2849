package chatclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wepush/pkg/config"
	"wepush/pkg/filter"
	"wepush/pkg/logger"
)

const sidecarMaxErrorBody = 512

// Sidecar drives the desktop client through a local UI-automation agent that
// exposes it over HTTP.
//
//	GET  /chats        -> {"chats": ["name", ...]}
//	POST /attach       {"chat": "name"} -> {"ok": true}
//	GET  /messages     -> {"messages": {"chat": [{"id","sender","type","content"}]}}
//	POST /send/text    {"chat","text"} -> {"ok": true}
//	POST /send/image   {"chat","image": "<base64>"} -> {"ok": true}
type Sidecar struct {
	baseURL string
	token   string
	client  *http.Client
	now     func() time.Time
}

func NewSidecar(cfg config.SidecarConfig) *Sidecar {
	return &Sidecar{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
	}
}

type sidecarOK struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type sidecarMessage struct {
	ID      string `json:"id,omitempty"`
	Sender  string `json:"sender"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Sidecar) ListChats(ctx context.Context) ([]string, error) {
	var resp struct {
		Chats []string `json:"chats"`
	}
	if err := s.do(ctx, http.MethodGet, "/chats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (s *Sidecar) Attach(ctx context.Context, chat string) (bool, error) {
	return s.post(ctx, "/attach", map[string]string{"chat": chat})
}

func (s *Sidecar) PollNewMessages(ctx context.Context) (map[string][]filter.RawMessage, error) {
	var resp struct {
		Messages map[string][]sidecarMessage `json:"messages"`
	}
	if err := s.do(ctx, http.MethodGet, "/messages", nil, &resp); err != nil {
		return nil, err
	}

	observed := s.now()
	out := make(map[string][]filter.RawMessage, len(resp.Messages))
	for chat, msgs := range resp.Messages {
		for _, m := range msgs {
			out[chat] = append(out[chat], filter.RawMessage{
				ID:         m.ID,
				ChatName:   chat,
				Sender:     m.Sender,
				Kind:       filter.ParseKind(m.Type),
				Content:    m.Content,
				ObservedAt: observed,
			})
		}
	}
	return out, nil
}

func (s *Sidecar) SendText(ctx context.Context, chat, text string) (bool, error) {
	return s.post(ctx, "/send/text", map[string]string{"chat": chat, "text": text})
}

func (s *Sidecar) SendImage(ctx context.Context, chat string, image []byte) (bool, error) {
	return s.post(ctx, "/send/image", map[string]string{
		"chat":  chat,
		"image": base64.StdEncoding.EncodeToString(image),
	})
}

func (s *Sidecar) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Sidecar) post(ctx context.Context, path string, body interface{}) (bool, error) {
	var resp sidecarOK
	if err := s.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return false, err
	}
	if !resp.OK && resp.Error != "" {
		logger.WarnCF("chatclient", "Sidecar rejected request", map[string]interface{}{
			"path":            path,
			logger.FieldError: resp.Error,
		})
	}
	return resp.OK, nil
}

func (s *Sidecar) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, sidecarMaxErrorBody))
		return fmt.Errorf("sidecar %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var _ ChatClient = (*Sidecar)(nil)
