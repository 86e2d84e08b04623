package ws

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// envelope is the JSON text frame: {"channel": ..., "data": ...}.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// encodeJSON wraps a bus payload in the text envelope. Payloads that are not
// JSON are carried as a string.
func encodeJSON(channel string, data []byte) []byte {
	raw := json.RawMessage(data)
	if !json.Valid(data) {
		raw, _ = json.Marshal(string(data))
	}
	out, _ := json.Marshal(envelope{Channel: channel, Data: raw})
	return out
}

// encodeProto wraps a bus payload in a google.protobuf.Struct with the same
// shape as the text envelope. Numbers become doubles.
func encodeProto(channel string, data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		v = string(data)
	}
	st, err := structpb.NewStruct(map[string]any{
		"channel": channel,
		"data":    v,
	})
	if err != nil {
		return nil, fmt.Errorf("ws: build struct: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeProto reverses encodeProto for clients written in Go.
func DecodeProto(frame []byte) (channel string, data map[string]any, err error) {
	var st structpb.Struct
	if err := proto.Unmarshal(frame, &st); err != nil {
		return "", nil, fmt.Errorf("ws: decode frame: %w", err)
	}
	m := st.AsMap()
	channel, _ = m["channel"].(string)
	data, _ = m["data"].(map[string]any)
	return channel, data, nil
}
