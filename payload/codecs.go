package payload

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// JSON encodes records as JSON. HTML characters in handler arguments are
// kept as they are.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (JSON) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSON) ContentType() string {
	return ContentTypeJSON
}

// MsgPack encodes records as MessagePack under their msgpack tags. Map keys
// are sorted so equal records encode to equal bytes.
type MsgPack struct{}

func (MsgPack) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgPack) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (MsgPack) ContentType() string {
	return ContentTypeMsgPack
}

var (
	_ Codec = JSON{}
	_ Codec = MsgPack{}
)
