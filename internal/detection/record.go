package detection

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"math"
)

// Record is a fixed-layout numeric message: N float32 values, zero padding to
// an 8-byte boundary, then a uint64 timestamp. Consumers know N from the
// active model.
type Record struct {
	Values    []float32
	Timestamp uint64
}

var _ encoding.BinaryMarshaler = Record{}

// RecordSize returns the encoded size of a record carrying n values.
func RecordSize(n int) int {
	return align8(4*n) + 8
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// MarshalBinary encodes the record.
func (r Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize(len(r.Values)))
	le := binary.LittleEndian
	for i, v := range r.Values {
		le.PutUint32(b[4*i:], math.Float32bits(v))
	}
	le.PutUint64(b[align8(4*len(r.Values)):], r.Timestamp)
	return b, nil
}

// DecodeRecord decodes a record of n values from b.
func DecodeRecord(b []byte, n int) (Record, error) {
	if len(b) < RecordSize(n) {
		return Record{}, fmt.Errorf("detection: record of %d values needs %d bytes, got %d", n, RecordSize(n), len(b))
	}
	le := binary.LittleEndian
	r := Record{Values: make([]float32, n)}
	for i := range r.Values {
		r.Values[i] = math.Float32frombits(le.Uint32(b[4*i:]))
	}
	r.Timestamp = le.Uint64(b[align8(4*n):])
	return r, nil
}

// ControlSize is the encoded size of a Control record.
const ControlSize = 24

// Control is one velocity/yaw command.
type Control struct {
	VX, VY, VZ, Yaw float32
	Timestamp       uint64
}

// Vector returns the command as (vx, vy, vz, yaw).
func (c Control) Vector() [4]float32 {
	return [4]float32{c.VX, c.VY, c.VZ, c.Yaw}
}

// MarshalBinary encodes the 24-byte control layout.
func (c Control) MarshalBinary() ([]byte, error) {
	return Record{Values: []float32{c.VX, c.VY, c.VZ, c.Yaw}, Timestamp: c.Timestamp}.MarshalBinary()
}

// UnmarshalBinary decodes a 24-byte control record.
func (c *Control) UnmarshalBinary(b []byte) error {
	r, err := DecodeRecord(b, 4)
	if err != nil {
		return err
	}
	c.VX, c.VY, c.VZ, c.Yaw = r.Values[0], r.Values[1], r.Values[2], r.Values[3]
	c.Timestamp = r.Timestamp
	return nil
}
