package bitfield

import (
	"fmt"
	"testing"
)

type sampleFlags struct {
	Present  bool   `bitfield:",1"`
	Writable bool   `bitfield:",1"`
	Reserved uint32 `bitfield:",6"`
}

func TestPack(t *testing.T) {
	tests := []struct {
		name     string
		flags    sampleFlags
		expected uint64
		wantErr  bool
	}{
		{
			name:     "all flags false",
			flags:    sampleFlags{},
			expected: 0x00,
		},
		{
			name:     "present only",
			flags:    sampleFlags{Present: true},
			expected: 0x01,
		},
		{
			name:     "writable only",
			flags:    sampleFlags{Writable: true},
			expected: 0x02,
		},
		{
			name:     "both bits and reserved",
			flags:    sampleFlags{Present: true, Writable: true, Reserved: 0x3F},
			expected: 0xFF,
		},
		{
			name:    "reserved overflows its width",
			flags:   sampleFlags{Reserved: 0x40},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Pack(tt.flags, &Config{NumBits: 8})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Pack() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if packed != tt.expected {
				t.Errorf("Pack() = 0x%02x, want 0x%02x", packed, tt.expected)
			}
		})
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []sampleFlags{
		{},
		{Present: true},
		{Writable: true},
		{Present: true, Writable: true},
		{Present: true, Writable: true, Reserved: 0x2A},
	}

	for i, original := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			packed, err := Pack(original, &Config{NumBits: 8})
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}

			var got sampleFlags
			if err := Unpack(packed, &got, &Config{NumBits: 8}); err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}

			if got != original {
				t.Errorf("round trip = %+v, want %+v", got, original)
			}
		})
	}
}

func ExamplePack() {
	flags := sampleFlags{Present: true, Writable: false}
	packed, err := Pack(flags, &Config{NumBits: 8})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("packed: 0x%02x\n", packed)

	// Output:
	// packed: 0x01
}
