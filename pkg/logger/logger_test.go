package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{" warning ", WARN},
		{"error", ERROR},
		{"CRITICAL", FATAL},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPreviewTruncatesOnRunes(t *testing.T) {
	short := "你好"
	if got := Preview(short); got != short {
		t.Fatalf("short content changed: %q", got)
	}

	long := strings.Repeat("消", PreviewRunes+5)
	got := Preview(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	if n := len([]rune(strings.TrimSuffix(got, "..."))); n != PreviewRunes {
		t.Fatalf("expected %d runes, got %d", PreviewRunes, n)
	}
}

func TestLogLineHasSortedFieldsAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLevel()
	t.Cleanup(func() {
		SetLevel(prev)
		SetOutput(os.Stderr)
	})

	SetLevel(INFO)
	DebugC("bridge", "hidden")
	InfoCF("bridge", "forwarded", map[string]interface{}{
		FieldSender: "Alice",
		FieldChat:   "Friends",
	})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at INFO: %q", out)
	}
	if !strings.Contains(out, "[INFO] bridge: forwarded {chat=Friends, sender=Alice}") {
		t.Fatalf("unexpected log line: %q", out)
	}
}

func TestFieldsAreQuotedAndSecretsMasked(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	fields := map[string]interface{}{
		"token":     "abcd1234567890wxyz",
		FieldChat:   "Family Group",
		FieldTarget: "",
	}
	WarnCF("transport", "connect failed", fields)

	out := buf.String()
	if strings.Contains(out, "1234567890") {
		t.Fatalf("token leaked: %q", out)
	}
	if !strings.Contains(out, "token=abcd**********wxyz") {
		t.Fatalf("token not masked: %q", out)
	}
	if !strings.Contains(out, `chat="Family Group"`) || !strings.Contains(out, `target=""`) {
		t.Fatalf("values not quoted: %q", out)
	}
	if fields["token"] != "abcd1234567890wxyz" {
		t.Fatalf("caller's fields were modified")
	}
}

func TestFileLoggingWritesJSONAndRotates(t *testing.T) {
	SetOutput(io.Discard)
	t.Cleanup(func() {
		DisableFileLogging()
		SetOutput(os.Stderr)
	})

	path := filepath.Join(t.TempDir(), "wepush.log")
	if err := EnableFileLoggingWithRotation(path, 1, 1); err != nil {
		t.Fatalf("enable: %v", err)
	}
	ErrorCF("bridge", "send failed", map[string]interface{}{FieldChat: "Friends"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var entry fileEntry
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("last line is not JSON: %v", err)
	}
	if entry.Level != "ERROR" || entry.Component != "bridge" || entry.Fields[FieldChat] != "Friends" || entry.Caller == "" {
		t.Fatalf("unexpected entry: %#v", entry)
	}

	fileSink.mu.Lock()
	fileSink.maxSize = 64
	fileSink.mu.Unlock()
	InfoC("bridge", strings.Repeat("x", 100))

	matches, _ := filepath.Glob(path + ".*")
	if len(matches) != 1 {
		t.Fatalf("expected one rotated file, got %v", matches)
	}
}
