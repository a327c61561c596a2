package docstore

import "testing"

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    string
		wantEnc Encoding
	}{
		{"empty", nil, "", EncodingUTF8},
		{"utf8", []byte("héllo"), "héllo", EncodingUTF8},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "hi"...), "hi", EncodingUTF8BOM},
		{"utf16le bom", []byte{0xFF, 0xFE, 'h', 0x00, 'i', 0x00}, "hi", EncodingUTF16LE},
		{"utf16be bom", []byte{0xFE, 0xFF, 0x00, 'h', 0x00, 'i'}, "hi", EncodingUTF16BE},
		{"latin1", []byte{'c', 'a', 'f', 0xE9}, "café", EncodingLatin1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enc, err := Decode(tt.input)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode = %q, want %q", got, tt.want)
			}
			if enc != tt.wantEnc {
				t.Errorf("encoding = %q, want %q", enc, tt.wantEnc)
			}
		})
	}
}
