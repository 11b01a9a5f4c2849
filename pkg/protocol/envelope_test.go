package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"

	"wepush/pkg/logger"
)

func TestSegmentWireShape(t *testing.T) {
	seg := ListSegment(TextSegment("a"), ImageSegment([]byte{0x89, 0x50}))
	data, err := json.Marshal(seg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"seglist","data":[{"type":"text","data":"a"},{"type":"image","data":"iVA="}]}`
	if string(data) != want {
		t.Fatalf("unexpected wire form:\n got %s\nwant %s", data, want)
	}
}

func TestDecodeMapMatchesTyped(t *testing.T) {
	img := []byte("png-bytes")
	typed := MessageBase{
		MessageInfo: MessageInfo{
			Platform:  "wxauto",
			MessageID: "42",
			Time:      1700000000.5,
			UserInfo:  &UserInfo{Platform: "wxauto", UserID: "u1", UserNickname: "Bob"},
			GroupInfo: &GroupInfo{Platform: "wxauto", GroupID: "g1", GroupName: "Friends"},
		},
		MessageSegment: ListSegment(TextSegment("hi "), ImageSegment(img), TextSegment("there")),
	}

	untyped := map[string]interface{}{
		"message_info": map[string]interface{}{
			"platform":   "wxauto",
			"message_id": float64(42),
			"time":       1700000000.5,
			"user_info": map[string]interface{}{
				"platform": "wxauto", "user_id": "u1", "user_nickname": "Bob",
			},
			"group_info": map[string]interface{}{
				"platform": "wxauto", "group_id": "g1", "group_name": "Friends",
			},
		},
		"message_segment": map[string]interface{}{
			"type": "seglist",
			"data": []interface{}{
				map[string]interface{}{"type": "text", "data": "hi "},
				map[string]interface{}{"type": "image", "data": base64.StdEncoding.EncodeToString(img)},
				map[string]interface{}{"type": "text", "data": "there"},
			},
		},
	}

	fromTyped, err := Decode(&typed)
	if err != nil {
		t.Fatalf("decode typed: %v", err)
	}
	fromMap, err := Decode(untyped)
	if err != nil {
		t.Fatalf("decode map: %v", err)
	}
	if !reflect.DeepEqual(fromTyped, fromMap) {
		t.Fatalf("decoded forms differ:\n typed %#v\n   map %#v", fromTyped, fromMap)
	}
}

func TestDecodeJSONRoundTripsOutboundEnvelope(t *testing.T) {
	out := MessageBase{
		MessageInfo: MessageInfo{
			Platform:   "wxauto",
			MessageID:  "abc",
			UserInfo:   &UserInfo{Platform: "wxauto", UserID: "u", UserNickname: "Alice"},
			FormatInfo: &FormatInfo{ContentFormat: ContentFormats, AcceptFormat: AcceptFormats},
		},
		MessageSegment: TextSegment("hello"),
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(data, []byte(`"group_info":null`)) {
		t.Fatalf("direct chats should carry a null group_info: %s", data)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MessageSegment.Kind != KindText || got.MessageSegment.Text != "hello" {
		t.Fatalf("unexpected segment: %#v", got.MessageSegment)
	}
	if got.MessageInfo.IsGroup() {
		t.Fatalf("expected direct chat")
	}
	if got.MessageInfo.FormatInfo == nil || !reflect.DeepEqual(got.MessageInfo.FormatInfo.AcceptFormat, AcceptFormats) {
		t.Fatalf("format info lost: %#v", got.MessageInfo.FormatInfo)
	}
}

func TestImagePayloadPrefixes(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	enc := base64.StdEncoding.EncodeToString(raw)
	for _, in := range []string{enc, "base64://" + enc, "data:image/png;base64," + enc} {
		seg := SegmentFromValue(map[string]interface{}{"type": "image", "data": in})
		if !bytes.Equal(seg.Image, raw) {
			t.Fatalf("payload %q decoded to %v", in, seg.Image)
		}
	}
	bad := SegmentFromValue(map[string]interface{}{"type": "image", "data": "%%%"})
	if len(bad.Image) != 0 {
		t.Fatalf("undecodable payload should yield no image")
	}
}

func TestUnknownSegmentKeepsPayload(t *testing.T) {
	var seg Segment
	if err := json.Unmarshal([]byte(`{"type":"emoji","data":"smile"}`), &seg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if seg.Kind != "emoji" || seg.Raw != "smile" {
		t.Fatalf("unexpected unknown segment: %#v", seg)
	}
}

func TestDecodeRejectsUnsupported(t *testing.T) {
	for _, in := range []interface{}{nil, 42, "text", (*MessageBase)(nil), []byte("not json"), []byte("null")} {
		if _, err := Decode(in); !errors.Is(err, ErrUnsupportedEnvelope) {
			t.Fatalf("Decode(%#v) err = %v, want ErrUnsupportedEnvelope", in, err)
		}
	}
}

func TestUndecodableImageIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := logger.GetLevel()
	logger.SetLevel(logger.DEBUG)
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetLevel(prev)
		logger.SetOutput(os.Stderr)
	})

	seg := SegmentFromValue(map[string]interface{}{"type": "image", "data": "!!!not-base64"})
	if seg.Kind != KindImage || len(seg.Image) != 0 {
		t.Fatalf("unexpected segment: %#v", seg)
	}
	out := buf.String()
	if !strings.Contains(out, "Undecodable image payload dropped") || !strings.Contains(out, "content_length=13") {
		t.Fatalf("dropped payload not logged:\n%s", out)
	}
}
