// Package integrity inspects compiled plugin binaries for truncation and corruption.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// jarMagic is the local file header signature every zip archive starts with.
var jarMagic = [2]byte{0x50, 0x4B}

// textProbeLen is how many leading bytes are scanned for text corruption markers.
const textProbeLen = 100

// textMarkers are left behind when a binary was round-tripped through a text layer upstream.
var textMarkers = []string{"undefined", "null", "[object"}

// Report is the diagnostic result of Verify.
type Report struct {
	FileName             string   `json:"fileName"`
	Size                 int64    `json:"size"`
	ExpectedSize         *int64   `json:"expectedSize,omitempty"`
	SizeMatch            bool     `json:"sizeMatch"`
	HasValidSignature    bool     `json:"hasValidSignature"`
	// MagicBytes is the hex of the leading bytes present, at most two,
	// empty for an empty buffer.
	MagicBytes           string   `json:"magicBytes"`
	Checksum             string   `json:"checksum"`
	CorruptionIndicators []string `json:"corruptionIndicators"`
	IsValid              bool     `json:"isValid"`
}

// Verify runs every check over binary and collects all failures,
// it never stops at the first one.
//
// expectedSize is optional, a nil value skips the size check.
func Verify(binary []byte, expectedSize *int64, fileName string) *Report {
	r := &Report{
		FileName:             fileName,
		Size:                 int64(len(binary)),
		ExpectedSize:         expectedSize,
		SizeMatch:            true,
		CorruptionIndicators: []string{},
	}

	if len(binary) == 0 {
		r.addIndicator("Buffer is empty")
	}

	r.MagicBytes = magicHex(binary)
	r.HasValidSignature = len(binary) >= 2 && binary[0] == jarMagic[0] && binary[1] == jarMagic[1]
	if !r.HasValidSignature {
		found := r.MagicBytes
		if found == "" {
			found = "nothing"
		}
		r.addIndicator(fmt.Sprintf("Invalid JAR signature: expected %x, found %s",
			jarMagic[:], found))
	}

	if expectedSize != nil && *expectedSize != r.Size {
		r.SizeMatch = false
		r.addIndicator(fmt.Sprintf("Size mismatch: expected %d bytes, got %d bytes",
			*expectedSize, r.Size))
	}

	if len(binary) > 0 && binary[0] == 0x00 {
		r.addIndicator("Buffer starts with null byte")
	}

	head := latin1(binary, textProbeLen)
	for _, marker := range textMarkers {
		if strings.Contains(head, marker) {
			r.addIndicator(fmt.Sprintf("Text corruption detected: found %q in file header", marker))
		}
	}

	sum := sha256.Sum256(binary)
	r.Checksum = hex.EncodeToString(sum[:])
	r.IsValid = len(r.CorruptionIndicators) == 0

	return r
}

func (r *Report) addIndicator(msg string) {
	r.CorruptionIndicators = append(r.CorruptionIndicators, msg)
}

// magicHex renders the leading bytes actually present, at most two.
func magicHex(binary []byte) string {
	if len(binary) > len(jarMagic) {
		binary = binary[:len(jarMagic)]
	}
	return hex.EncodeToString(binary)
}

// latin1 decodes at most n leading bytes, one rune per byte.
func latin1(binary []byte, n int) string {
	if len(binary) < n {
		n = len(binary)
	}

	var sb strings.Builder
	sb.Grow(n)
	for _, b := range binary[:n] {
		sb.WriteRune(rune(b))
	}

	return sb.String()
}
