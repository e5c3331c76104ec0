package broker

import (
	"bytes"
	"strings"

	"emperror.dev/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
)

// A Codec turns envelopes into message bodies and back.
type Codec interface {
	Name() string
	ContentType() string
	ContentEncoding() string
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// LookupCodec resolves a serializer name or content type. Names ending in
// "json" select JSON, names ending in "msgpack" select MessagePack.
func LookupCodec(name string) (Codec, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasSuffix(n, "json"):
		return JSON, nil
	case strings.HasSuffix(n, "msgpack"):
		return Msgpack, nil
	}
	return nil, errors.WithDetails(ErrUnknownSerializer, "serializer", name)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

var stdjson = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec struct{}

func (jsonCodec) Name() string            { return "json" }
func (jsonCodec) ContentType() string     { return "application/json" }
func (jsonCodec) ContentEncoding() string { return "utf-8" }

func (jsonCodec) Encode(v any) ([]byte, error) {
	b, err := stdjson.Marshal(v)
	return b, errors.WrapIf(err, "json encode")
}

func (jsonCodec) Decode(data []byte) (any, error) {
	var v any
	if err := stdjson.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string            { return "msgpack" }
func (msgpackCodec) ContentType() string     { return "application/msgpack" }
func (msgpackCodec) ContentEncoding() string { return "binary" }

func (msgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "msgpack encode")
	}
	return buf.Bytes(), nil
}

// Decode yields int64, uint64 and float64 for numbers and map[string]any for
// maps, so both codecs produce comparable envelopes.
func (msgpackCodec) Decode(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetCustomStructTag("json")
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
