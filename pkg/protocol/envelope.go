// Package protocol models the envelopes exchanged with the bot backend and
// collapses every representation a reply can arrive in into one MessageBase.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnsupportedEnvelope = errors.New("unsupported envelope")

// Format negotiation values announced on every outbound envelope. The
// bridge only emits text but accepts richer replies.
var (
	ContentFormats = []string{"text"}
	AcceptFormats  = []string{"text", "emoji", "image"}
)

type UserInfo struct {
	Platform     string `json:"platform"`
	UserID       string `json:"user_id"`
	UserNickname string `json:"user_nickname,omitempty"`
	UserCardname string `json:"user_cardname,omitempty"`
}

type GroupInfo struct {
	Platform  string `json:"platform"`
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name,omitempty"`
}

type FormatInfo struct {
	ContentFormat []string `json:"content_format"`
	AcceptFormat  []string `json:"accept_format"`
}

type MessageInfo struct {
	Platform         string                 `json:"platform"`
	MessageID        string                 `json:"message_id"`
	Time             float64                `json:"time"`
	UserInfo         *UserInfo              `json:"user_info"`
	GroupInfo        *GroupInfo             `json:"group_info"`
	FormatInfo       *FormatInfo            `json:"format_info,omitempty"`
	TemplateInfo     interface{}            `json:"template_info"`
	AdditionalConfig map[string]interface{} `json:"additional_config"`
}

// IsGroup reports whether the envelope carries group context.
func (mi MessageInfo) IsGroup() bool {
	return mi.GroupInfo != nil
}

type MessageBase struct {
	MessageInfo    MessageInfo `json:"message_info"`
	MessageSegment Segment     `json:"message_segment"`
	RawMessage     string      `json:"raw_message,omitempty"`
}

// Decode accepts a typed envelope, a pointer to one, a loosely typed map
// (as produced by a generic JSON decoder) or raw JSON, and returns the
// equivalent MessageBase. Segment payloads are normalised on the way in.
func Decode(v interface{}) (MessageBase, error) {
	switch t := v.(type) {
	case MessageBase:
		return t, nil
	case *MessageBase:
		if t == nil {
			return MessageBase{}, fmt.Errorf("%w: nil message", ErrUnsupportedEnvelope)
		}
		return *t, nil
	case map[string]interface{}:
		return fromMap(t), nil
	case json.RawMessage:
		return decodeJSON(t)
	case []byte:
		return decodeJSON(t)
	case nil:
		return MessageBase{}, fmt.Errorf("%w: nil", ErrUnsupportedEnvelope)
	default:
		return MessageBase{}, fmt.Errorf("%w: %T", ErrUnsupportedEnvelope, v)
	}
}

func decodeJSON(data []byte) (MessageBase, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return MessageBase{}, fmt.Errorf("%w: %v", ErrUnsupportedEnvelope, err)
	}
	if m == nil {
		return MessageBase{}, fmt.Errorf("%w: empty payload", ErrUnsupportedEnvelope)
	}
	return fromMap(m), nil
}

func fromMap(m map[string]interface{}) MessageBase {
	msg := MessageBase{
		MessageSegment: SegmentFromValue(m["message_segment"]),
		RawMessage:     stringValue(m["raw_message"]),
	}

	info, _ := m["message_info"].(map[string]interface{})
	if info == nil {
		return msg
	}
	msg.MessageInfo = MessageInfo{
		Platform:  stringValue(info["platform"]),
		MessageID: stringValue(info["message_id"]),
		Time:      floatValue(info["time"]),
	}
	if ui, ok := info["user_info"].(map[string]interface{}); ok {
		msg.MessageInfo.UserInfo = &UserInfo{
			Platform:     stringValue(ui["platform"]),
			UserID:       stringValue(ui["user_id"]),
			UserNickname: stringValue(ui["user_nickname"]),
			UserCardname: stringValue(ui["user_cardname"]),
		}
	}
	if gi, ok := info["group_info"].(map[string]interface{}); ok {
		msg.MessageInfo.GroupInfo = &GroupInfo{
			Platform:  stringValue(gi["platform"]),
			GroupID:   stringValue(gi["group_id"]),
			GroupName: stringValue(gi["group_name"]),
		}
	}
	if fi, ok := info["format_info"].(map[string]interface{}); ok {
		msg.MessageInfo.FormatInfo = &FormatInfo{
			ContentFormat: stringSlice(fi["content_format"]),
			AcceptFormat:  stringSlice(fi["accept_format"]),
		}
	}
	msg.MessageInfo.TemplateInfo = info["template_info"]
	if ac, ok := info["additional_config"].(map[string]interface{}); ok {
		msg.MessageInfo.AdditionalConfig = ac
	}
	return msg
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func floatValue(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func stringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
