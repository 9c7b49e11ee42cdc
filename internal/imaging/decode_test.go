package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

var signedPayloads = map[Format][]byte{
	FormatPNG:  append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("png-body")...),
	FormatJPEG: append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("jpeg-body")...),
	FormatGIF:  append([]byte("GIF89a"), []byte("gif-body")...),
	FormatWebP: append([]byte("RIFF\x24\x00\x00\x00WEBP"), []byte("webp-body")...),
}

func TestDecodeRoundTripsSignedPayloads(t *testing.T) {
	for format, payload := range signedPayloads {
		encoded := base64.StdEncoding.EncodeToString(payload)
		img, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode %s: %v", format, err)
		}
		if !bytes.Equal(img.Data, payload) {
			t.Fatalf("decode %s: round trip mismatch", format)
		}
		if img.Format != format {
			t.Fatalf("decode %s: detected %s", format, img.Format)
		}
	}
}

func TestDecodeStripsDataURLPrefix(t *testing.T) {
	payload := signedPayloads[FormatPNG]
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
	img, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Format != FormatPNG || img.MIMEType != "image/png" {
		t.Fatalf("unexpected format %s mime %s", img.Format, img.MIMEType)
	}
}

func TestDecodeRejectsMalformedBase64(t *testing.T) {
	for _, payload := range []string{"not base64!!!", "abc\ndef", "a", "====", "%%%%"} {
		if _, err := Decode(payload); !errors.Is(err, ErrInvalidEncoding) {
			t.Fatalf("payload %q: expected ErrInvalidEncoding, got %v", payload, err)
		}
	}
}

func TestDecodeAcceptsUnpaddedBase64(t *testing.T) {
	payload := signedPayloads[FormatJPEG]
	encoded := base64.RawStdEncoding.EncodeToString(payload)
	img, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode unpadded: %v", err)
	}
	if !bytes.Equal(img.Data, payload) {
		t.Fatal("round trip mismatch for unpadded input")
	}
}

func TestDecodeUnknownFormatFallsBackToPNGMime(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("no known signature here"))
	img, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Format != FormatUnknown {
		t.Fatalf("expected unknown format, got %s", img.Format)
	}
	if img.MIMEType != "image/png" {
		t.Fatalf("expected image/png fallback, got %s", img.MIMEType)
	}
}

func TestExtractPayloadShapes(t *testing.T) {
	const b64 = "aGVsbG8="
	cases := []struct {
		name string
		raw  string
	}{
		{"bare string", `"` + b64 + `"`},
		{"data string", `{"data":"` + b64 + `"}`},
		{"data array b64_json", `{"data":[{"b64_json":"` + b64 + `"}]}`},
		{"image field", `{"image":"` + b64 + `"}`},
	}
	for _, tc := range cases {
		got, err := ExtractPayload(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != b64 {
			t.Fatalf("%s: got %q", tc.name, got)
		}
	}
}

func TestExtractPayloadNoImageData(t *testing.T) {
	for _, raw := range []string{`{}`, `{"data":[]}`, `{"data":[{"url":"https://x"}]}`, `42`} {
		if _, err := ExtractPayload(json.RawMessage(raw)); !errors.Is(err, ErrNoImageData) {
			t.Fatalf("raw %s: expected ErrNoImageData, got %v", raw, err)
		}
	}
}

func TestValidSize(t *testing.T) {
	if !ValidSize(make([]byte, 1024)) {
		t.Fatal("1KiB should fit")
	}
	if ValidSize(make([]byte, MaxImageBytes+1)) {
		t.Fatal("over-cap buffer should not fit")
	}
}
