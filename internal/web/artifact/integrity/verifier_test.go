package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func validJar(size int) []byte {
	buf := make([]byte, size)
	buf[0], buf[1], buf[2], buf[3] = 0x50, 0x4B, 0x03, 0x04
	for i := 4; i < size; i++ {
		buf[i] = byte(i % 7)
	}
	return buf
}

func sizePtr(n int64) *int64 { return &n }

func TestVerifyValidJar(t *testing.T) {
	bin := validJar(1004)

	r := Verify(bin, sizePtr(1004), "plugin.jar")
	require.True(t, r.IsValid)
	require.Empty(t, r.CorruptionIndicators)
	require.True(t, r.SizeMatch)
	require.True(t, r.HasValidSignature)
	require.Equal(t, "504b", r.MagicBytes)

	sum := sha256.Sum256(bin)
	require.Equal(t, hex.EncodeToString(sum[:]), r.Checksum)
}

func TestVerifyEmpty(t *testing.T) {
	r := Verify(nil, nil, "plugin.jar")
	require.False(t, r.IsValid)
	require.Contains(t, r.CorruptionIndicators, "Buffer is empty")
	require.Empty(t, r.MagicBytes)
	require.Contains(t, r.CorruptionIndicators, "Invalid JAR signature: expected 504b, found nothing")
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", r.Checksum)
}

func TestVerifyIndicators(t *testing.T) {
	cases := []struct {
		name     string
		bin      []byte
		expected *int64
		want     []string
		magic    string
	}{
		{
			name:  "leading null byte",
			bin:   []byte{0x00, 0x4B, 0x03, 0x04},
			magic: "004b",
			want: []string{
				"Invalid JAR signature: expected 504b, found 004b",
				"Buffer starts with null byte",
			},
		},
		{
			name:  "single byte",
			bin:   []byte{0x50},
			magic: "50",
			want: []string{
				"Invalid JAR signature: expected 504b, found 50",
			},
		},
		{
			name:  "serialized undefined",
			bin:   []byte("undefined"),
			magic: "756e",
			want: []string{
				"Invalid JAR signature: expected 504b, found 756e",
				`Text corruption detected: found "undefined" in file header`,
			},
		},
		{
			name:  "object marker after valid magic",
			bin:   append([]byte{0x50, 0x4B}, []byte("[object Object]")...),
			magic: "504b",
			want: []string{
				`Text corruption detected: found "[object" in file header`,
			},
		},
		{
			name:     "truncated",
			bin:      validJar(10),
			expected: sizePtr(1004),
			magic:    "504b",
			want: []string{
				"Size mismatch: expected 1004 bytes, got 10 bytes",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Verify(tc.bin, tc.expected, "plugin.jar")
			require.False(t, r.IsValid)
			require.Equal(t, tc.want, r.CorruptionIndicators)
			require.Equal(t, tc.magic, r.MagicBytes)
			require.Len(t, r.Checksum, 64)
		})
	}
}

func TestVerifyTextMarkerOutsideProbe(t *testing.T) {
	bin := validJar(200)
	copy(bin[150:], "null")

	r := Verify(bin, nil, "plugin.jar")
	require.True(t, r.IsValid)
}

func TestVerifyDeterministic(t *testing.T) {
	bin := append([]byte{0x00}, []byte("null")...)
	first := Verify(bin, sizePtr(3), "broken.jar")
	second := Verify(bin, sizePtr(3), "broken.jar")
	require.Equal(t, first, second)
	require.Len(t, first.CorruptionIndicators, 4)
}
