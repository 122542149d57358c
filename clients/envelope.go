package clients

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope carries one engine message call: the receiving object, the method
// to invoke on it and the serialized payload argument.
type Envelope struct {
	Target  string `json:"target" msgpack:"target"`
	Method  string `json:"method" msgpack:"method"`
	Payload string `json:"payload" msgpack:"payload"`
}

func encodeEnvelope(env Envelope, encoding string) ([]byte, error) {
	switch encoding {
	case "", "json":
		return json.Marshal(env)
	case "msgpack":
		return msgpack.Marshal(env)
	default:
		return nil, fmt.Errorf("unknown envelope encoding %q", encoding)
	}
}
