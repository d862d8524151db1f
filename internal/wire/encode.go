package wire

import "google.golang.org/protobuf/encoding/protowire"

// buf is a tiny append-only builder over protowire so the message builders
// below read like a field list instead of raw byte math.
type buf []byte

func (b buf) varint(field int, v uint64) buf {
	b = protowire.AppendTag(b, protowire.Number(field), protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func (b buf) boolean(field int, v bool) buf {
	n := uint64(0)
	if v {
		n = 1
	}
	return b.varint(field, n)
}

func (b buf) str(field int, s string) buf {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, protowire.Number(field), protowire.BytesType)
	return protowire.AppendString(b, s)
}

func (b buf) bytesField(field int, v []byte) buf {
	b = protowire.AppendTag(b, protowire.Number(field), protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// message appends field as an embedded length-delimited message, even when
// content is empty: an empty TaskContext still needs the field present with
// zero length, not omitted.
func (b buf) message(field int, content []byte) buf {
	b = protowire.AppendTag(b, protowire.Number(field), protowire.BytesType)
	return protowire.AppendBytes(b, content)
}

func (b buf) packedVarints(field int, values []uint64) buf {
	if len(values) == 0 {
		return b
	}
	var inner []byte
	for _, v := range values {
		inner = protowire.AppendVarint(inner, v)
	}
	return b.message(field, inner)
}

func (b buf) bytes() []byte { return []byte(b) }
