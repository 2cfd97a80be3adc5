package backend

import (
	"encoding/base64"
	"strings"
)

// Chromaprint compressed fingerprint layout:
//
//	byte 0       algorithm
//	bytes 1..3   number of sub-fingerprints, big endian
//	3-bit packed bit deltas, one 0 terminating each sub-fingerprint
//	5-bit packed overflow for every delta stored as 7
//
// Each sub-fingerprint is XORed with its predecessor before its set bits are
// written as distances between consecutive bit positions.
const (
	fingerprintHeaderSize = 4
	maxNormalDelta        = 7
	maxFingerprintCount   = 1<<24 - 1
)

// DecodeFingerprint decodes a Chromaprint compressed fingerprint (as printed by
// fpcalc and stored in AcoustID) into its raw 32-bit sub-fingerprints.
// Malformed or truncated input yields an empty slice.
func DecodeFingerprint(text string) []uint32 {
	values, _ := DecodeFingerprintWithAlgorithm(text)
	return values
}

// DecodeFingerprintWithAlgorithm is DecodeFingerprint that also reports the
// algorithm byte, or -1 when the input could not be decoded.
func DecodeFingerprintWithAlgorithm(text string) ([]uint32, int) {
	data, ok := decodeFingerprintText(text)
	if !ok || len(data) < fingerprintHeaderSize {
		return nil, -1
	}
	algorithm := int(data[0])
	count := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	if count == 0 {
		return nil, -1
	}

	body := data[fingerprintHeaderSize:]
	reader := bitReader{data: body}
	deltas := make([]uint8, 0, count*4)
	zeros, exceptional := 0, 0
	for zeros < count {
		v, ok := reader.read(3)
		if !ok {
			return nil, -1
		}
		switch v {
		case 0:
			zeros++
		case maxNormalDelta:
			exceptional++
		}
		deltas = append(deltas, uint8(v))
	}

	if exceptional > 0 {
		offset := (len(deltas)*3 + 7) / 8
		if len(body) < offset+(exceptional*5+7)/8 {
			return nil, -1
		}
		extra := bitReader{data: body[offset:]}
		for i, d := range deltas {
			if d != maxNormalDelta {
				continue
			}
			v, ok := extra.read(5)
			if !ok {
				return nil, -1
			}
			deltas[i] = d + uint8(v)
		}
	}

	values, ok := unpackDeltas(deltas, count)
	if !ok {
		return nil, -1
	}
	return values, algorithm
}

// EncodeFingerprint compresses raw sub-fingerprints into Chromaprint's textual
// format. It returns "" for an empty slice or one too long for the 24-bit count.
func EncodeFingerprint(values []uint32, algorithm int) string {
	if len(values) == 0 || len(values) > maxFingerprintCount {
		return ""
	}

	var deltas []uint8
	var prev uint32
	for _, v := range values {
		x := v ^ prev
		prev = v
		bit, lastBit := 1, 0
		for x != 0 {
			if x&1 != 0 {
				deltas = append(deltas, uint8(bit-lastBit))
				lastBit = bit
			}
			x >>= 1
			bit++
		}
		deltas = append(deltas, 0)
	}

	out := []byte{
		byte(algorithm),
		byte(len(values) >> 16),
		byte(len(values) >> 8),
		byte(len(values)),
	}
	var normal, exceptional bitWriter
	for _, d := range deltas {
		if d >= maxNormalDelta {
			normal.write(maxNormalDelta, 3)
			exceptional.write(uint32(d-maxNormalDelta), 5)
			continue
		}
		normal.write(uint32(d), 3)
	}
	out = append(out, normal.bytes()...)
	out = append(out, exceptional.bytes()...)
	return base64.RawURLEncoding.EncodeToString(out)
}

func decodeFingerprintText(text string) ([]byte, bool) {
	s := strings.TrimSpace(text)
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	if s == "" {
		return nil, false
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return data, true
}

func unpackDeltas(deltas []uint8, count int) ([]uint32, bool) {
	values := make([]uint32, 0, count)
	var value uint32
	lastBit := 0
	for _, d := range deltas {
		if d == 0 {
			if n := len(values); n > 0 {
				value ^= values[n-1]
			}
			values = append(values, value)
			value, lastBit = 0, 0
			continue
		}
		lastBit += int(d)
		if lastBit > 32 {
			return nil, false
		}
		value |= 1 << (lastBit - 1)
	}
	return values, len(values) == count
}

// bitReader reads little-endian bit fields, least significant bit first.
type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) read(n int) (uint32, bool) {
	if r.pos+n > len(r.data)*8 {
		return 0, false
	}
	var v uint32
	for i := 0; i < n; i++ {
		p := r.pos + i
		if r.data[p/8]&(1<<(p%8)) != 0 {
			v |= 1 << i
		}
	}
	r.pos += n
	return v, true
}

type bitWriter struct {
	buf []byte
	pos int
}

func (w *bitWriter) write(v uint32, n int) {
	for i := 0; i < n; i++ {
		if w.pos%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<i) != 0 {
			w.buf[w.pos/8] |= 1 << (w.pos % 8)
		}
		w.pos++
	}
}

func (w *bitWriter) bytes() []byte { return w.buf }
