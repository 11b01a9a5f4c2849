package logger

const (
	FieldChat      = "chat"
	FieldSender    = "sender"
	FieldMessageID = "message_id"
	FieldTarget    = "target"
	FieldPreview   = "preview"
	FieldError     = "error"
	FieldAttempt   = "attempt"
	FieldState     = "state"
	FieldURL       = "url"

	FieldContentLength = "content_length"
	FieldImageBytes    = "image_bytes"
)

// PreviewRunes is how much message content goes into a log line.
const PreviewRunes = 50

// Preview truncates s to PreviewRunes runes for logging.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewRunes {
		return s
	}
	return string(runes[:PreviewRunes]) + "..."
}
