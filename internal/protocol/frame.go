package protocol

import "encoding/json"

// ClientOpcode tags a frame sent by the client to the gateway (spec.md §6 "Client -> server frames").
type ClientOpcode string

const (
	ClientOpAuthenticate ClientOpcode = "Authenticate"
	ClientOpBeginTyping  ClientOpcode = "BeginTyping"
	ClientOpEndTyping    ClientOpcode = "EndTyping"
	ClientOpPing         ClientOpcode = "Ping"
)

// ClientFrame is the wire shape of every client -> server message. Unrecognised Type values are dropped by the
// gateway per spec.md §4.5 "All other kinds: drop."
type ClientFrame struct {
	Type ClientOpcode    `json:"type"`
	Data json.RawMessage `json:"-"`
}

// clientFrameWire lets ClientFrame unmarshal its non-uniform payload shape (Authenticate has `token`, BeginTyping
// has `channel`, Ping has `data`/`responded`) without a second decode pass per opcode.
type clientFrameWire struct {
	Type      ClientOpcode `json:"type"`
	Token     string       `json:"token,omitempty"`
	Channel   string       `json:"channel,omitempty"`
	Data      int64        `json:"data,omitempty"`
	Responded *int64       `json:"responded,omitempty"`
}

// DecodeClientFrame parses one inbound WebSocket message. Format (json/msgpack/bincode) is selected at handshake
// time by the `format` query parameter; only the json codec is implemented in this tree -- see DESIGN.md.
func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	var wire clientFrameWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ClientFrame{}, err
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return ClientFrame{}, err
	}
	return ClientFrame{Type: wire.Type, Data: data}, nil
}

// AuthenticatePayload extracts the token from an Authenticate frame.
func (f ClientFrame) AuthenticatePayload() (string, error) {
	var w clientFrameWire
	if err := json.Unmarshal(f.Data, &w); err != nil {
		return "", err
	}
	return w.Token, nil
}

// ChannelPayload extracts the channel id from a BeginTyping/EndTyping frame.
func (f ClientFrame) ChannelPayload() (string, error) {
	var w clientFrameWire
	if err := json.Unmarshal(f.Data, &w); err != nil {
		return "", err
	}
	return w.Channel, nil
}

// PingPayload extracts the echo data and whether the `responded` field was present on a Ping frame.
func (f ClientFrame) PingPayload() (data int64, hasResponded bool, err error) {
	var w clientFrameWire
	if uErr := json.Unmarshal(f.Data, &w); uErr != nil {
		return 0, false, uErr
	}
	return w.Data, w.Responded != nil, nil
}

// ServerFrame is the wire envelope for every server -> client message: a tagged event with an optional serialised
// payload. It is distinct from the pub/sub wireEnvelope because it is what actually lands on the socket.
type ServerFrame struct {
	Type EventKind       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeServerFrame serialises an Event for direct transmission to a client.
func EncodeServerFrame(ev Event) ([]byte, error) {
	env, err := toEnvelope(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ServerFrame{Type: env.Type, Data: env.Data})
}
