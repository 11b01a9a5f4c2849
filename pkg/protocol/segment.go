package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"wepush/pkg/logger"
)

type SegmentKind string

const (
	KindText  SegmentKind = "text"
	KindImage SegmentKind = "image"
	KindList  SegmentKind = "seglist"
)

// Segment is the tagged content union carried by an envelope. Exactly one of
// Text, Image or Children is meaningful for the known kinds; unknown kinds
// keep their payload in Raw so it survives a round trip.
type Segment struct {
	Kind     SegmentKind
	Text     string
	Image    []byte
	Children []Segment
	Raw      interface{}
}

func TextSegment(text string) Segment {
	return Segment{Kind: KindText, Text: text}
}

func ImageSegment(image []byte) Segment {
	return Segment{Kind: KindImage, Image: image}
}

func ListSegment(children ...Segment) Segment {
	return Segment{Kind: KindList, Children: children}
}

type wireSegment struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	w := wireSegment{Type: string(s.Kind)}
	switch s.Kind {
	case KindText:
		w.Data = s.Text
	case KindImage:
		w.Data = base64.StdEncoding.EncodeToString(s.Image)
	case KindList:
		children := s.Children
		if children == nil {
			children = []Segment{}
		}
		w.Data = children
	default:
		w.Data = s.Raw
	}
	return json.Marshal(w)
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SegmentFromValue(v)
	return nil
}

// SegmentFromValue converts a segment in any supported shape (typed value,
// pointer, or generic map with "type"/"data" keys) into a Segment. Shapes it
// does not understand become an empty segment of unknown kind.
func SegmentFromValue(v interface{}) Segment {
	switch t := v.(type) {
	case Segment:
		return t
	case *Segment:
		if t == nil {
			return Segment{}
		}
		return *t
	case map[string]interface{}:
		return segmentFromMap(t)
	default:
		return Segment{}
	}
}

func segmentFromMap(m map[string]interface{}) Segment {
	kind := SegmentKind(stringValue(m["type"]))
	data := m["data"]
	switch kind {
	case KindText:
		return Segment{Kind: kind, Text: stringValue(data)}
	case KindImage:
		return Segment{Kind: kind, Image: imageBytes(data)}
	case KindList:
		seg := Segment{Kind: kind}
		switch items := data.(type) {
		case []interface{}:
			for _, item := range items {
				seg.Children = append(seg.Children, SegmentFromValue(item))
			}
		case []map[string]interface{}:
			for _, item := range items {
				seg.Children = append(seg.Children, segmentFromMap(item))
			}
		case []Segment:
			seg.Children = append(seg.Children, items...)
		}
		return seg
	default:
		return Segment{Kind: kind, Raw: data}
	}
}

// imageBytes decodes an image payload. The backend sends base64, sometimes
// with a data URI or base64:// prefix.
func imageBytes(v interface{}) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		s = strings.TrimPrefix(s, "base64://")
		if strings.HasPrefix(s, "data:") {
			if idx := strings.Index(s, ","); idx >= 0 {
				s = s[idx+1:]
			}
		}
		if b, err := base64.StdEncoding.DecodeString(s); err == nil {
			return b
		}
		if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
			return b
		}
		logger.DebugCF("protocol", "Undecodable image payload dropped", map[string]interface{}{
			logger.FieldContentLength: len(s),
		})
		return nil
	default:
		return nil
	}
}
