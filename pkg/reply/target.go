package reply

import (
	"errors"
	"regexp"
	"strings"

	"wepush/pkg/protocol"
)

var ErrTargetUnresolved = errors.New("target chat unresolved")

// The UI layer sometimes echoes a window handle description instead of the
// chat name, e.g. "<ChatWnd Chat Window at 0x1f2 for Alice>".
const chatWindowMarker = "Chat Window at"

var chatWindowPattern = regexp.MustCompile(`for ([^>]+)`)

// ResolveTarget picks the chat a reply belongs to: the group name (unwrapping
// a chat-window description), then the user's nickname, then the card name.
func ResolveTarget(info protocol.MessageInfo) (string, error) {
	if info.GroupInfo != nil && info.GroupInfo.GroupName != "" {
		return unwrapChatWindow(info.GroupInfo.GroupName), nil
	}
	if info.UserInfo != nil {
		if info.UserInfo.UserNickname != "" {
			return info.UserInfo.UserNickname, nil
		}
		if info.UserInfo.UserCardname != "" {
			return info.UserInfo.UserCardname, nil
		}
	}
	return "", ErrTargetUnresolved
}

func unwrapChatWindow(name string) string {
	if !strings.Contains(name, chatWindowMarker) {
		return name
	}
	if m := chatWindowPattern.FindStringSubmatch(name); len(m) == 2 {
		if chat := strings.TrimSpace(m[1]); chat != "" {
			return chat
		}
	}
	return name
}
