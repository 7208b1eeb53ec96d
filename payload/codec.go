// Package payload provides the codecs relayed event records are encoded with.
// Every transport takes its codec as an option and defaults to JSON:
//
//	codec, _ := payload.Lookup("msgpack")
//	pub, err := redis.New(client, redis.WithCodec(codec))
//
// Readers pick the decoder from the content type stored next to each record
// with ForContentType.
package payload

import (
	"mime"
	"slices"
	"strings"
	"sync"
)

// Codec encodes/decodes record payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes v to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes into v.
	// The target must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/json").
	ContentType() string
}

// Content types of the built-in codecs.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgPack = "application/msgpack"
	ContentTypeProto   = "application/protobuf"
)

var (
	mu     sync.RWMutex
	byName = map[string]Codec{}
)

func init() {
	Register(JSON{}, "json")
	Register(MsgPack{}, "msgpack", "application/x-msgpack")
	Register(Proto{}, "proto", "protobuf", "application/x-protobuf")
}

// Register makes codec available under its content type and the given
// aliases. Later registrations replace earlier ones.
func Register(codec Codec, aliases ...string) {
	mu.Lock()
	defer mu.Unlock()
	byName[normalize(codec.ContentType())] = codec
	for _, alias := range aliases {
		byName[normalize(alias)] = codec
	}
}

// Lookup returns the codec registered under name, a content type or an
// alias. Media type parameters such as charset are ignored.
func Lookup(name string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := byName[normalize(name)]
	return c, ok
}

// ForContentType returns the codec for a stored content type, falling back
// to JSON for unknown or missing ones.
func ForContentType(contentType string) Codec {
	if c, ok := Lookup(contentType); ok {
		return c
	}
	return JSON{}
}

// Names returns every registered content type and alias, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}

func normalize(name string) string {
	if mt, _, err := mime.ParseMediaType(name); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(name))
}
