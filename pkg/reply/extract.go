package reply

import (
	"fmt"
	"strings"

	"wepush/pkg/logger"
	"wepush/pkg/protocol"
)

// maxSegmentDepth bounds recursion into nested segment lists.
const maxSegmentDepth = 32

// Content is what a reply carries for the chat client.
type Content struct {
	Text  string
	Image []byte
}

func (c Content) HasImage() bool { return len(c.Image) > 0 }

func (c Content) IsEmpty() bool { return c.Text == "" && len(c.Image) == 0 }

// Extract pulls deliverable content out of seg. An image wins over text: when
// one is found the text is left empty, since the chat client sends one item
// per reply. Malformed segments yield empty content.
func Extract(seg protocol.Segment) (c Content) {
	defer recoverExtraction("extract", &c)

	if img := ExtractImage(seg); len(img) > 0 {
		return Content{Image: img}
	}
	return Content{Text: ExtractText(seg)}
}

// ExtractAny decodes v with protocol.Decode and extracts its segment. Anything
// that cannot be decoded yields empty content.
func ExtractAny(v interface{}) (c Content) {
	defer recoverExtraction("decode", &c)

	msg, err := protocol.Decode(v)
	if err != nil {
		logger.DebugCF("reply", "Reply envelope not decodable", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
		return Content{}
	}
	return Extract(msg.MessageSegment)
}

// ExtractText concatenates every text fragment of seg in order, without separators.
func ExtractText(seg protocol.Segment) string {
	var sb strings.Builder
	collectText(seg, &sb, 0)
	return sb.String()
}

func collectText(seg protocol.Segment, sb *strings.Builder, depth int) {
	if depth > maxSegmentDepth {
		return
	}
	switch seg.Kind {
	case protocol.KindText:
		sb.WriteString(seg.Text)
	case protocol.KindList:
		for _, child := range seg.Children {
			collectText(child, sb, depth+1)
		}
	}
}

// ExtractImage returns the first image in seg, or nil.
func ExtractImage(seg protocol.Segment) []byte {
	return firstImage(seg, 0)
}

func firstImage(seg protocol.Segment, depth int) []byte {
	if depth > maxSegmentDepth {
		return nil
	}
	switch seg.Kind {
	case protocol.KindImage:
		if len(seg.Image) > 0 {
			return seg.Image
		}
	case protocol.KindList:
		for _, child := range seg.Children {
			if img := firstImage(child, depth+1); len(img) > 0 {
				return img
			}
		}
	}
	return nil
}

func recoverExtraction(stage string, c *Content) {
	if r := recover(); r != nil {
		logger.ErrorCF("reply", "Content extraction failed", map[string]interface{}{
			"stage":           stage,
			logger.FieldError: fmt.Sprintf("%v", r),
		})
		*c = Content{}
	}
}
