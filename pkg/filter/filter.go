package filter

import (
	"strings"
	"time"
)

// Kind classifies a chat-client message.
type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "sys"
	KindSelf   Kind = "self"
	KindOther  Kind = "other"
)

// SelfSender is the sender name the chat client reports for the bridge's own account.
const SelfSender = "Self"

// DefaultNoiseMarkers are the chat client's batched-message banners. They are
// UI artifacts, not conversation content.
var DefaultNoiseMarkers = []string{"以下为新消息", "新消息"}

// RawMessage is one message observed in a chat window. ID is whatever stable
// identifier the chat client exposes, empty when it has none.
type RawMessage struct {
	ID         string    `json:"id,omitempty"`
	ChatName   string    `json:"chat"`
	Sender     string    `json:"sender"`
	Kind       Kind      `json:"type"`
	Content    string    `json:"content"`
	ObservedAt time.Time `json:"observed_at"`
}

// ParseKind maps the chat client's type labels onto Kind.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "friend":
		return KindText
	case "sys", "system", "time", "recall":
		return KindSystem
	case "self":
		return KindSelf
	default:
		return KindOther
	}
}

type Filter struct {
	NoiseMarkers []string
	SelfSender   string
}

func New(noiseMarkers []string) *Filter {
	markers := make([]string, 0, len(noiseMarkers))
	for _, m := range noiseMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}
	return &Filter{NoiseMarkers: markers, SelfSender: SelfSender}
}

// ShouldForward reports whether msg is conversation content worth sending
// to the backend. It has no side effects.
func (f *Filter) ShouldForward(msg RawMessage) bool {
	if msg.Kind == KindSystem || msg.Kind == KindSelf {
		return false
	}
	if msg.Sender == f.SelfSender {
		return false
	}
	for _, marker := range f.NoiseMarkers {
		if strings.Contains(msg.Content, marker) {
			return false
		}
	}
	return true
}
