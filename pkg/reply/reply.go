// Package reply turns backend replies into something the chat client can
// deliver: a target chat plus either text or an image.
package reply

import (
	"errors"
	"fmt"

	"wepush/pkg/protocol"
)

var ErrEmptyContent = errors.New("reply has no deliverable content")

type Reply struct {
	Target    string
	Content   Content
	MessageID string
}

// Resolve decodes v (typed envelope, generic map or raw JSON) and extracts
// its target and content. Every representation goes through the same path.
func Resolve(v interface{}) (Reply, error) {
	msg, err := protocol.Decode(v)
	if err != nil {
		return Reply{}, err
	}

	target, err := ResolveTarget(msg.MessageInfo)
	if err != nil {
		return Reply{MessageID: msg.MessageInfo.MessageID}, err
	}

	r := Reply{
		Target:    target,
		Content:   Extract(msg.MessageSegment),
		MessageID: msg.MessageInfo.MessageID,
	}
	if r.Content.IsEmpty() {
		return r, fmt.Errorf("%w (segment type %q)", ErrEmptyContent, msg.MessageSegment.Kind)
	}
	return r, nil
}
