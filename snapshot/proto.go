package snapshot

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// MarshalProto encodes s as a google.protobuf.Struct message holding the same
// document MarshalJSON writes.
func MarshalProto(s Snapshot) ([]byte, error) {
	msg, err := ToStruct(s)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot proto: %w", err)
	}
	return data, nil
}

// UnmarshalProto decodes a snapshot written by MarshalProto.
func UnmarshalProto(data []byte) (Snapshot, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot proto: %w", err)
	}
	return FromStruct(&msg)
}

// ToStruct converts s to a protobuf Struct.
func ToStruct(s Snapshot) (*structpb.Struct, error) {
	raw, err := MarshalJSON(s)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("snapshot to struct: %w", err)
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("snapshot to struct: %w", err)
	}
	return msg, nil
}

// FromStruct converts a protobuf Struct produced by ToStruct back to a Snapshot.
func FromStruct(msg *structpb.Struct) (Snapshot, error) {
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot from struct: %w", err)
	}
	return UnmarshalJSON(raw)
}
