package broker

// A Decoder parses message bodies with a codec resolved once at construction.
type Decoder struct {
	codec Codec
}

// NewDecoder resolves the serializer and returns a decoder for it.
func NewDecoder(serializer string) (*Decoder, error) {
	c, err := LookupCodec(serializer)
	if err != nil {
		return nil, err
	}
	return &Decoder{codec: c}, nil
}

// Codec returns the codec the decoder applies.
func (d *Decoder) Codec() Codec { return d.codec }

// Decode parses body. Malformed bytes fail with a *DecodeError; a well-formed
// body that is not a mapping yields a nil Envelope and no error.
func (d *Decoder) Decode(body []byte) (Envelope, error) {
	v, err := d.codec.Decode(body)
	if err != nil {
		return nil, &DecodeError{Serializer: d.codec.Name(), Err: err}
	}
	m, _ := v.(map[string]any)
	return Envelope(m), nil
}
