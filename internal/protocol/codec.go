package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/1ureka/worldlink/internal/errs"
)

// MaxMessageSize bounds a decoded envelope. Inflated binary payloads are cut
// off at this size.
const MaxMessageSize = 1 << 20

// Codec serializes envelopes for one class of socket. A socket never mixes
// codecs.
type Codec interface {
	Name() string
	Binary() bool // true when frames must be sent as binary messages
	Encode(m Message) ([]byte, error)
	Decode(data []byte) (Message, error)
}

var (
	// Binary packs with msgpack then zlib-compresses. Used on the dedicated
	// server socket and every mesh data channel.
	Binary Codec = binaryCodec{}

	// Text is plain JSON. Used on the signaling broker socket.
	Text Codec = textCodec{}
)

// ---------------------------------------------------------------------------
// Binary codec
// ---------------------------------------------------------------------------

type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }
func (binaryCodec) Binary() bool { return true }

func (binaryCodec) Encode(m Message) ([]byte, error) {
	body, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.Type(), err)
	}

	fields := make(map[string]msgpack.RawMessage)
	if err := msgpack.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.Type(), err)
	}
	code, err := msgpack.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = code

	var packed bytes.Buffer
	enc := msgpack.NewEncoder(&packed)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.Type(), err)
	}

	var out bytes.Buffer
	zw, err := zlib.NewWriterLevel(&out, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(packed.Bytes()); err != nil {
		return nil, fmt.Errorf("compress %s: %w", m.Type(), err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: %w", m.Type(), err)
	}
	return out.Bytes(), nil
}

func (binaryCodec) Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &errs.ProtocolError{Code: -1, Reason: "empty frame"}
	}

	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &errs.ProtocolError{Code: -1, Reason: fmt.Sprintf("inflate: %v", err)}
	}
	defer zr.Close()

	packed, err := io.ReadAll(io.LimitReader(zr, MaxMessageSize+1))
	if err != nil {
		return nil, &errs.ProtocolError{Code: -1, Reason: fmt.Sprintf("inflate: %v", err)}
	}
	if len(packed) > MaxMessageSize {
		return nil, &errs.ProtocolError{Code: -1, Reason: "frame exceeds maximum size"}
	}

	var peek struct {
		Type *Type `msgpack:"type"`
	}
	if err := msgpack.Unmarshal(packed, &peek); err != nil {
		return nil, &errs.ProtocolError{Code: -1, Reason: fmt.Sprintf("unpack: %v", err)}
	}
	if peek.Type == nil {
		return nil, &errs.ProtocolError{Code: -1, Reason: "missing type"}
	}
	return decodeVariant(*peek.Type, packed, msgpack.Unmarshal)
}

// ---------------------------------------------------------------------------
// Text codec
// ---------------------------------------------------------------------------

type textCodec struct{}

func (textCodec) Name() string { return "text" }
func (textCodec) Binary() bool { return false }

func (textCodec) Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	code, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = code

	return json.Marshal(fields)
}

func (textCodec) Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &errs.ProtocolError{Code: -1, Reason: "empty frame"}
	}
	if len(data) > MaxMessageSize {
		return nil, &errs.ProtocolError{Code: -1, Reason: "frame exceeds maximum size"}
	}

	var peek struct {
		Type *Type `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, &errs.ProtocolError{Code: -1, Reason: fmt.Sprintf("unmarshal: %v", err)}
	}
	if peek.Type == nil {
		return nil, &errs.ProtocolError{Code: -1, Reason: "missing type"}
	}
	return decodeVariant(*peek.Type, data, json.Unmarshal)
}

// ---------------------------------------------------------------------------
// Variant dispatch
// ---------------------------------------------------------------------------

type unmarshalFunc func(data []byte, v any) error

func decodeAs[T Message](data []byte, unmarshal unmarshalFunc) (Message, error) {
	var m T
	if err := unmarshal(data, &m); err != nil {
		return nil, &errs.ProtocolError{Code: int(m.Type()), Reason: err.Error()}
	}
	return m, nil
}

// decodeVariant maps each handled code to its one canonical field shape.
func decodeVariant(t Type, data []byte, u unmarshalFunc) (Message, error) {
	switch t {
	case TypePing:
		return decodeAs[Ping](data, u)
	case TypePong:
		return decodeAs[Pong](data, u)
	case TypeError:
		return decodeAs[Error](data, u)
	case TypeDedicatedJoin:
		return decodeAs[DedicatedJoin](data, u)
	case TypeDedicatedJoined:
		return decodeAs[DedicatedJoined](data, u)
	case TypeJoinRequest:
		return decodeAs[JoinRequest](data, u)
	case TypeJoined:
		return decodeAs[Joined](data, u)
	case TypeHostRequest:
		return decodeAs[HostRequest](data, u)
	case TypeHostConfirmed:
		return decodeAs[HostConfirmed](data, u)
	case TypeHostDeparted:
		return decodeAs[HostDeparted](data, u)
	case TypeMakeOffer:
		return decodeAs[MakeOffer](data, u)
	case TypeOffer:
		return decodeAs[Offer](data, u)
	case TypeAnswer:
		return decodeAs[Answer](data, u)
	case TypeCandidate:
		return decodeAs[Candidate](data, u)
	case TypeChat:
		return decodeAs[Chat](data, u)
	case TypePlayerJoined:
		return decodeAs[PlayerJoined](data, u)
	case TypePlayerUpdated:
		return decodeAs[PlayerUpdated](data, u)
	case TypePlayerLeft:
		return decodeAs[PlayerLeft](data, u)
	case TypeObjectAdded:
		return decodeAs[ObjectAdded](data, u)
	case TypeObjectUpdated:
		return decodeAs[ObjectUpdated](data, u)
	case TypeObjectRemoved:
		return decodeAs[ObjectRemoved](data, u)
	case TypePlayerPing:
		return decodeAs[PlayerPing](data, u)
	case TypeJoinedGame:
		return decodeAs[JoinedGame](data, u)
	case TypeJoinAnnounce:
		return decodeAs[JoinAnnounce](data, u)
	case TypeUpdatePlayer:
		return decodeAs[UpdatePlayer](data, u)
	case TypeAddObject:
		return decodeAs[AddObject](data, u)
	case TypeUpdateObject:
		return decodeAs[UpdateObject](data, u)
	case TypeRemoveObject:
		return decodeAs[RemoveObject](data, u)
	case TypeLeave:
		return decodeAs[Leave](data, u)
	}
	return nil, &errs.ProtocolError{Code: int(t), Reason: "unknown type"}
}
