package codec

import (
	"bytes"
	"testing"
	"time"
)

func TestAppendVaruint(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tt := range tests {
		if got := AppendVaruint(nil, tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("AppendVaruint(%d) = % x, want % x", tt.v, got, tt.want)
		}
		d := &decoder{data: tt.want}
		if got := d.varuint(); got != tt.v || d.err != nil {
			t.Errorf("varuint(% x) = %d, %v", tt.want, got, d.err)
		}
	}

	d := &decoder{data: []byte{0x80, 0x80}}
	d.varuint()
	if d.err == nil {
		t.Error("truncated varuint decoded without error")
	}
}

func TestPackMTime(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want []byte
	}{
		{
			name: "start of year",
			t:    time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			want: []byte{0xdf, 0x07, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "one second and one nanosecond",
			t:    time.Date(2015, 1, 1, 0, 0, 1, 1, time.UTC),
			want: []byte{0xdf, 0x07, 1, 0, 0, 0x01, 0, 0, 0},
		},
		{
			// 2^24 seconds into the year sets the high bit of octet 5.
			name: "second bit 24",
			t:    time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC).Add(1 << 24 * time.Second),
			want: []byte{0xe0, 0x07, 0, 0, 0, 0x80, 0, 0, 0},
		},
		{
			name: "nanosecond spread over four octets",
			t:    time.Date(2015, 1, 1, 0, 0, 0, 999999999, time.UTC),
			want: []byte{0xdf, 0x07, 0, 0, 0, 0x3f, 0x27, 0x6b, 0xee},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PackMTime(tt.t)
			if err != nil {
				t.Fatalf("PackMTime() error = %v", err)
			}
			if !bytes.Equal(got[:], tt.want) {
				t.Errorf("PackMTime() = % x, want % x", got, tt.want)
			}
			back, err := UnpackMTime(got[:])
			if err != nil {
				t.Fatalf("UnpackMTime() error = %v", err)
			}
			if !back.Equal(tt.t) {
				t.Errorf("UnpackMTime() = %v, want %v", back, tt.t)
			}
		})
	}
}

func TestPackMTime_LastSecondOfLeapYear(t *testing.T) {
	in := time.Date(2024, 12, 31, 23, 59, 59, 123456789, time.UTC)
	packed, err := PackMTime(in)
	if err != nil {
		t.Fatalf("PackMTime() error = %v", err)
	}
	out, err := UnpackMTime(packed[:])
	if err != nil {
		t.Fatalf("UnpackMTime() error = %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestUnpackMTime_Invalid(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"short", []byte{1, 2, 3}},
		{"reserved bit", []byte{0xdf, 0x07, 0, 0, 0, 0x40, 0, 0, 0}},
		{"nanosecond too large", []byte{0xdf, 0x07, 0, 0, 0, 0x3f, 0xff, 0xff, 0xff}},
		{"second too large", []byte{0xdf, 0x07, 0xff, 0xff, 0xff, 0x80, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnpackMTime(tt.b); err == nil {
				t.Error("UnpackMTime() expected error")
			}
		})
	}
}
