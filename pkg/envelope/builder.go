package envelope

import (
	"errors"
	"fmt"
	"time"

	"wepush/pkg/filter"
	"wepush/pkg/identity"
	"wepush/pkg/protocol"
)

var ErrMalformedInput = errors.New("malformed input")

// Builder turns chat-client messages into backend envelopes for one platform.
type Builder struct {
	platform string
	ids      *identity.Generator
	now      func() time.Time
}

func NewBuilder(platform string) *Builder {
	return &Builder{
		platform: platform,
		ids:      identity.NewGenerator(),
		now:      time.Now,
	}
}

func (b *Builder) Platform() string {
	return b.platform
}

// Build produces the envelope for msg observed in chatName. A chat whose name
// differs from the sender is treated as a group chat.
func (b *Builder) Build(chatName string, msg filter.RawMessage) (protocol.MessageBase, error) {
	if msg.Sender == "" {
		return protocol.MessageBase{}, fmt.Errorf("%w: message in %q has no sender", ErrMalformedInput, chatName)
	}
	if msg.Content == "" {
		return protocol.MessageBase{}, fmt.Errorf("%w: message from %q in %q has no content", ErrMalformedInput, msg.Sender, chatName)
	}

	user := &protocol.UserInfo{
		Platform:     b.platform,
		UserID:       identity.DeriveID(msg.Sender),
		UserNickname: msg.Sender,
	}

	var group *protocol.GroupInfo
	if chatName != msg.Sender {
		group = &protocol.GroupInfo{
			Platform:  b.platform,
			GroupID:   identity.DeriveID(chatName),
			GroupName: chatName,
		}
		// The chat client exposes a single display name; it doubles as the card name.
		user.UserCardname = msg.Sender
	}

	now := b.now()
	return protocol.MessageBase{
		MessageInfo: protocol.MessageInfo{
			Platform:  b.platform,
			MessageID: b.ids.NextMessageID(msg.Sender, chatName),
			Time:      float64(now.Unix()) + float64(now.Nanosecond())/1e9,
			UserInfo:  user,
			GroupInfo: group,
			FormatInfo: &protocol.FormatInfo{
				ContentFormat: append([]string(nil), protocol.ContentFormats...),
				AcceptFormat:  append([]string(nil), protocol.AcceptFormats...),
			},
		},
		MessageSegment: protocol.TextSegment(msg.Content),
	}, nil
}
