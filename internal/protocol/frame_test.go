package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeClientFrame_Authenticate(t *testing.T) {
	raw := []byte(`{"type":"Authenticate","token":"abc123"}`)

	frame, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}
	if frame.Type != ClientOpAuthenticate {
		t.Fatalf("Type = %v, want Authenticate", frame.Type)
	}

	token, err := frame.AuthenticatePayload()
	if err != nil {
		t.Fatalf("AuthenticatePayload() error = %v", err)
	}
	if token != "abc123" {
		t.Errorf("token = %q, want abc123", token)
	}
}

func TestDecodeClientFrame_BeginTyping(t *testing.T) {
	channelID := uuid.New()
	raw, err := json.Marshal(map[string]string{"type": string(ClientOpBeginTyping), "channel": channelID.String()})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	frame, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}

	ch, err := frame.ChannelPayload()
	if err != nil {
		t.Fatalf("ChannelPayload() error = %v", err)
	}
	if ch != channelID.String() {
		t.Errorf("channel = %q, want %q", ch, channelID.String())
	}
}

func TestDecodeClientFrame_Ping(t *testing.T) {
	raw := []byte(`{"type":"Ping","data":42}`)

	frame, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}

	data, hasResponded, err := frame.PingPayload()
	if err != nil {
		t.Fatalf("PingPayload() error = %v", err)
	}
	if data != 42 {
		t.Errorf("data = %d, want 42", data)
	}
	if hasResponded {
		t.Error("expected hasResponded to be false when the field is absent")
	}
}

func TestDecodeClientFrame_Ping_WithResponded(t *testing.T) {
	raw := []byte(`{"type":"Ping","data":7,"responded":1}`)

	frame, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("DecodeClientFrame() error = %v", err)
	}

	data, hasResponded, err := frame.PingPayload()
	if err != nil {
		t.Fatalf("PingPayload() error = %v", err)
	}
	if data != 7 {
		t.Errorf("data = %d, want 7", data)
	}
	if !hasResponded {
		t.Error("expected hasResponded to be true when the field is present")
	}
}

func TestDecodeClientFrame_InvalidJSON(t *testing.T) {
	if _, err := DecodeClientFrame([]byte("not json")); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}

func TestEncodeServerFrame_RoundTripsType(t *testing.T) {
	ev := Event{Kind: EventPong, Raw: json.RawMessage(`{"data":5}`)}

	raw, err := EncodeServerFrame(ev)
	if err != nil {
		t.Fatalf("EncodeServerFrame() error = %v", err)
	}

	var frame ServerFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal server frame: %v", err)
	}
	if frame.Type != EventPong {
		t.Errorf("Type = %v, want EventPong", frame.Type)
	}
	if string(frame.Data) != `{"data":5}` {
		t.Errorf("Data = %s, want {\"data\":5}", frame.Data)
	}
}
