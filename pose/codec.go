package pose

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes payloads for a bridge transport.
type Codec interface {
	Name() string
	Marshal(p Payload) ([]byte, error)
	Unmarshal(data []byte, p *Payload) error
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName resolves "json" (also the empty string) or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                            { return "json" }
func (jsonCodec) Marshal(p Payload) ([]byte, error)       { return json.Marshal(p) }
func (jsonCodec) Unmarshal(data []byte, p *Payload) error { return json.Unmarshal(data, p) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(p Payload) ([]byte, error) {
	b, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return b, nil
}

func (msgpackCodec) Unmarshal(data []byte, p *Payload) error {
	if err := msgpack.Unmarshal(data, p); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}
