package input

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// detectEncoding picks the decoder for raw input bytes. Detection covers the
// encodings seen in real exports: UTF-8 (with or without BOM), UTF-16 in
// either byte order, and Latin-1 as the fallback for everything else.
func detectEncoding(data []byte) encoding.Encoding {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return unicode.UTF8BOM
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	case looksUTF16(data):
		// BOM-less UTF-16: infer byte order from where the NULs sit.
		if countZeros(data, 1) > countZeros(data, 0) {
			return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
		}
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case utf8.Valid(data):
		return unicode.UTF8
	default:
		return charmap.ISO8859_1
	}
}

// looksUTF16 reports whether the sample is dominated by NUL bytes in one
// byte position, the signature of UTF-16 encoded ASCII-range text.
func looksUTF16(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	zeros := countZeros(data, 0) + countZeros(data, 1)
	return zeros*3 > len(data)
}

func countZeros(data []byte, offset int) int {
	n := 0
	for i := offset; i < len(data); i += 2 {
		if data[i] == 0 {
			n++
		}
	}
	return n
}

// decode converts raw bytes to UTF-8 using the detected encoding.
func decode(data []byte) ([]byte, error) {
	enc := detectEncoding(data)
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, err
	}
	return out, nil
}
