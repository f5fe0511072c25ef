package ws

import (
	"encoding/json"
	"testing"

	"contentcollab/backend/internal/ot"
)

func TestMarshal_Envelope(t *testing.T) {
	data, err := Marshal(ContentResolvedMessage{Content: "final text"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != EvtContentResolved {
		t.Fatalf("Type = %q", env.Type)
	}
	var m ContentResolvedMessage
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if m.Content != "final text" {
		t.Fatalf("Content = %q", m.Content)
	}
}

func TestDecodePayload_KnownTypes(t *testing.T) {
	raw, _ := json.Marshal(ContentChangePayload{
		Content:  "abc",
		BaseHash: "deadbeef",
		Operations: []ot.Operation{
			{ID: "op1", Type: ot.OpInsert, Position: 0, Text: "abc", Timestamp: 1, AuthorID: "u1"},
		},
		Section: "intro",
	})
	msg, err := DecodePayload(Envelope{Type: EvtContentChange, Payload: raw})
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	cc, ok := msg.(*ContentChangePayload)
	if !ok {
		t.Fatalf("msg = %T", msg)
	}
	if cc.BaseHash != "deadbeef" || len(cc.Operations) != 1 || cc.Operations[0].Type != ot.OpInsert {
		t.Fatalf("decoded = %+v", cc)
	}

	// payload 为空的控制事件
	for _, typ := range []string{EvtLeaveRoom, EvtHeartbeat} {
		msg, err := DecodePayload(Envelope{Type: typ})
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if msg.EventType() != typ {
			t.Fatalf("%s decoded as %s", typ, msg.EventType())
		}
	}
}

func TestDecodePayload_RejectsUnknownType(t *testing.T) {
	for _, typ := range []string{"shutdown", "room-state", "", "JOIN-ROOM"} {
		if _, err := DecodePayload(Envelope{Type: typ}); err == nil {
			t.Fatalf("type %q accepted", typ)
		}
	}
}

func TestDecodePayload_RejectsMalformedPayload(t *testing.T) {
	env := Envelope{Type: EvtJoinRoom, Payload: json.RawMessage(`{"contentId": 42}`)}
	if _, err := DecodePayload(env); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}
