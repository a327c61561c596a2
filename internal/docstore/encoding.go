package docstore

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding names the character encoding a document was decoded from.
type Encoding string

const (
	EncodingUTF8    Encoding = "utf-8"
	EncodingUTF8BOM Encoding = "utf-8-bom"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF16BE Encoding = "utf-16be"
	EncodingLatin1  Encoding = "iso-8859-1"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DetectEncoding inspects raw bytes. A BOM wins; otherwise valid UTF-8 is
// UTF-8 and anything else is treated as Latin-1, which accepts every byte.
func DetectEncoding(data []byte) Encoding {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return EncodingUTF8BOM
	case bytes.HasPrefix(data, bomUTF16LE):
		return EncodingUTF16LE
	case bytes.HasPrefix(data, bomUTF16BE):
		return EncodingUTF16BE
	case utf8.Valid(data):
		return EncodingUTF8
	default:
		return EncodingLatin1
	}
}

// Decode converts raw document bytes to a UTF-8 string, stripping any BOM.
func Decode(data []byte) (string, Encoding, error) {
	enc := DetectEncoding(data)
	if enc == EncodingUTF8 {
		return string(data), enc, nil
	}

	var t transform.Transformer
	if enc == EncodingLatin1 {
		t = charmap.ISO8859_1.NewDecoder()
	} else {
		t = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	}

	out, _, err := transform.Bytes(t, data)
	if err != nil {
		return "", enc, err
	}
	return string(out), enc, nil
}
