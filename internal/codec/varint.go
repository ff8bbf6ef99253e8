package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Variable-length integers use the little-endian base-128 layout of
// encoding/binary's Uvarint: 7 data bits per octet, high bit set on every
// octet except the last.

// AppendVaruint appends the varuint encoding of v to b.
func AppendVaruint(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

// MTimeSize is the length of a packed modification time.
const MTimeSize = 9

// maxSecondOfYear is one past the last second of a leap year.
const maxSecondOfYear = 366 * 24 * 60 * 60

// PackMTime packs t (in UTC) into 9 octets: a 16-bit year, a 25-bit second
// within the year and a 30-bit nanosecond, all little-endian. Bit 24 of the
// second lives in the top bit of octet 5, whose low 6 bits start the
// nanosecond.
func PackMTime(t time.Time) ([MTimeSize]byte, error) {
	var b [MTimeSize]byte
	t = t.UTC()
	year := t.Year()
	if year < 0 || year > 0xffff {
		return b, fmt.Errorf("mtime year %d out of range", year)
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	sec := uint32(t.Unix() - start.Unix())
	ns := uint32(t.Nanosecond())

	b[0] = byte(year)
	b[1] = byte(year >> 8)
	b[2] = byte(sec)
	b[3] = byte(sec >> 8)
	b[4] = byte(sec >> 16)
	b[5] = byte(sec>>24&1)<<7 | byte(ns&0x3f)
	b[6] = byte(ns >> 6)
	b[7] = byte(ns >> 14)
	b[8] = byte(ns >> 22)
	return b, nil
}

// UnpackMTime reverses PackMTime.
func UnpackMTime(b []byte) (time.Time, error) {
	if len(b) < MTimeSize {
		return time.Time{}, fmt.Errorf("mtime needs %d bytes, have %d", MTimeSize, len(b))
	}
	if b[5]&0x40 != 0 {
		return time.Time{}, fmt.Errorf("mtime has reserved bit set")
	}
	year := int(b[0]) | int(b[1])<<8
	sec := int64(b[2]) | int64(b[3])<<8 | int64(b[4])<<16 | int64(b[5]>>7)<<24
	ns := int64(b[5]&0x3f) | int64(b[6])<<6 | int64(b[7])<<14 | int64(b[8])<<22
	if sec >= maxSecondOfYear {
		return time.Time{}, fmt.Errorf("mtime second of year %d out of range", sec)
	}
	if ns >= int64(time.Second) {
		return time.Time{}, fmt.Errorf("mtime nanosecond %d out of range", ns)
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return time.Unix(start.Unix()+sec, ns).UTC(), nil
}

// packUnix32 encodes t as little-endian 32-bit unix seconds.
func packUnix32(b []byte, t time.Time) ([]byte, error) {
	s := t.Unix()
	if s < 0 || s > 0xffffffff {
		return nil, fmt.Errorf("timestamp %s outside 32-bit range", t.UTC().Format(time.RFC3339))
	}
	return binary.LittleEndian.AppendUint32(b, uint32(s)), nil
}

func unixFrom32(v uint32) time.Time {
	return time.Unix(int64(v), 0).UTC()
}
