package wire

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"

	"otr4/internal/otr4err"
)

// Reader consumes an OTRv4 wire payload sequentially. All Read* methods
// return otr4err.ProtocolViolation on truncated or malformed input.
type Reader struct {
	b   []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.b) - r.pos }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, otr4err.New(otr4err.ProtocolViolation, "wire.Reader", "truncated input")
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a big-endian u16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint32 reads a big-endian u32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadFixed reads exactly n raw bytes (used for fixed-width points, nonces,
// and auth tags).
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadMPI reads an OTR-MPI: a u32 length in bytes followed by a big-endian
// unsigned integer of that many bytes.
func (r *Reader) ReadMPI() (*big.Int, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// ReadData reads a DATA value: a u32 length in bytes followed by that many
// raw bytes.
func (r *Reader) ReadData() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// TLV is a single type-length-value record carried inside a data message,
// used for disconnect notices and SMP exchanges.
type TLV struct {
	Type  uint16
	Value []byte
}

// ReadTLVs reads every remaining TLV record in the reader.
func (r *Reader) ReadTLVs() ([]TLV, error) {
	var out []TLV
	for r.Remaining() > 0 {
		t, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadData()
		if err != nil {
			return nil, err
		}
		out = append(out, TLV{Type: t, Value: v})
	}
	return out, nil
}

// Writer accumulates an OTRv4 wire payload.
type Writer struct {
	b []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.b }

// WriteUint8 appends one byte.
func (w *Writer) WriteUint8(v uint8) *Writer {
	w.b = append(w.b, v)
	return w
}

// WriteUint16 appends a big-endian u16.
func (w *Writer) WriteUint16(v uint16) *Writer {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.b = append(w.b, buf[:]...)
	return w
}

// WriteUint32 appends a big-endian u32.
func (w *Writer) WriteUint32(v uint32) *Writer {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.b = append(w.b, buf[:]...)
	return w
}

// WriteFixed appends raw bytes verbatim (no length prefix).
func (w *Writer) WriteFixed(b []byte) *Writer {
	w.b = append(w.b, b...)
	return w
}

// WriteMPI appends v as an OTR-MPI: u32 byte length followed by its
// big-endian bytes. A nil or zero v is encoded as a zero-length MPI.
func (w *Writer) WriteMPI(v *big.Int) *Writer {
	if v == nil || v.Sign() == 0 {
		return w.WriteUint32(0)
	}
	b := v.Bytes()
	w.WriteUint32(uint32(len(b)))
	w.b = append(w.b, b...)
	return w
}

// WriteData appends b as a DATA value: u32 byte length followed by b.
func (w *Writer) WriteData(b []byte) *Writer {
	w.WriteUint32(uint32(len(b)))
	w.b = append(w.b, b...)
	return w
}

// WriteTLV appends a single TLV record.
func (w *Writer) WriteTLV(t TLV) *Writer {
	w.WriteUint16(t.Type)
	w.WriteData(t.Value)
	return w
}

const (
	envelopePrefix = "?OTR:"
	envelopeSuffix = "."
)

// WrapEnvelope base64-encodes payload and wraps it between "?OTR:" and ".",
// the on-the-wire framing every DAKE and data message uses.
func WrapEnvelope(payload []byte) string {
	return envelopePrefix + base64.StdEncoding.EncodeToString(payload) + envelopeSuffix
}

// UnwrapEnvelope strips the "?OTR:"..."." framing and base64-decodes the
// interior, or reports ok=false if s is not an OTR envelope at all.
func UnwrapEnvelope(s string) (payload []byte, ok bool, err error) {
	if len(s) < len(envelopePrefix)+len(envelopeSuffix) {
		return nil, false, nil
	}
	if s[:len(envelopePrefix)] != envelopePrefix {
		return nil, false, nil
	}
	if s[len(s)-len(envelopeSuffix):] != envelopeSuffix {
		return nil, false, nil
	}
	inner := s[len(envelopePrefix) : len(s)-len(envelopeSuffix)]
	b, decErr := base64.StdEncoding.DecodeString(inner)
	if decErr != nil {
		return nil, true, otr4err.Wrapf(otr4err.ProtocolViolation, "wire.UnwrapEnvelope", decErr, "invalid base64: %v", decErr)
	}
	return b, true, nil
}

const queryPrefix = "?OTRv4?"

// QueryToken produces the OTRv4 query token plus tagline, e.g.
// "?OTRv4?Let's talk over OTR.".
func QueryToken(tagline string) string {
	return fmt.Sprintf("%s%s", queryPrefix, tagline)
}

// IsQueryMessage reports whether s carries the OTRv4 query token.
func IsQueryMessage(s string) bool {
	return len(s) >= len(queryPrefix) && s[:len(queryPrefix)] == queryPrefix
}
