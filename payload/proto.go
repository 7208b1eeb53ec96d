package payload

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto implements Codec using Protocol Buffers.
//
// proto.Message values are marshaled as they are. Any other value is first
// converted to a google.protobuf.Struct through its JSON form, so plain Go
// structs such as relayed records travel as self-describing protobuf.
type Proto struct{}

// Encode serializes v to Protocol Buffer bytes.
func (Proto) Encode(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return proto.Marshal(msg)
	}
	s, err := ToStruct(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Decode deserializes Protocol Buffer bytes into v. A target that is not a
// proto.Message is filled from the decoded Struct through its JSON form.
func (Proto) Decode(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, msg)
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return err
	}
	return FromStruct(s, v)
}

// ContentType returns the MIME type for Protocol Buffers.
func (Proto) ContentType() string {
	return ContentTypeProto
}

// ToStruct converts v to a Struct through its JSON form. v must encode to a
// JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct fills v from s through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

var _ Codec = Proto{}
