package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Format is the detected image container format.
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

var (
	// ErrInvalidEncoding indicates the payload is not valid base64.
	ErrInvalidEncoding = errors.New("invalid base64 encoding")
	// ErrNoImageData indicates no base64 payload was found in a provider response.
	ErrNoImageData = errors.New("no image data found in response")
)

// Image is a decoded image payload.
type Image struct {
	Data     []byte
	Format   Format
	MIMEType string
}

var dataURLPrefix = regexp.MustCompile(`^data:image/[a-z]+;base64,`)

// Decode strips an optional data-URL prefix, validates the base64 payload,
// and detects the image format from its magic bytes. It is a pure function
// of its input; unknown formats decode fine and fall back to image/png.
func Decode(payload string) (Image, error) {
	raw := dataURLPrefix.ReplaceAllString(payload, "")

	data, err := decodeBase64(raw)
	if err != nil {
		return Image{}, err
	}

	format := DetectFormat(data)
	return Image{
		Data:     data,
		Format:   format,
		MIMEType: mimeType(format),
	}, nil
}

// decodeBase64 accepts standard base64 with or without padding and rejects
// anything that does not round-trip back to the input.
func decodeBase64(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	if len(s)-len(trimmed) > 2 {
		return nil, ErrInvalidEncoding
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '+' && r != '/' {
			return nil, ErrInvalidEncoding
		}
	}
	data, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if base64.RawStdEncoding.EncodeToString(data) != trimmed {
		return nil, ErrInvalidEncoding
	}
	return data, nil
}

// DetectFormat inspects magic-number signatures at the start of the buffer.
func DetectFormat(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return FormatPNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(data, []byte{0x47, 0x49, 0x46, 0x38}):
		return FormatGIF
	case len(data) >= 12 &&
		bytes.HasPrefix(data, []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	}
	return FormatUnknown
}

func mimeType(f Format) string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	default:
		// PNG and unknown both serve as image/png.
		return "image/png"
	}
}

// MaxImageBytes caps decoded images before upload.
const MaxImageBytes = 10 << 20

// ValidSize reports whether a decoded image fits under the upload cap.
func ValidSize(data []byte) bool {
	return len(data) <= MaxImageBytes
}

// ExtractPayload locates the base64 image payload inside a provider's raw
// JSON response. Known shapes, in order: bare string, {"data": "..."},
// {"data": [{"b64_json": "..."}]}, {"image": "..."}.
func ExtractPayload(raw json.RawMessage) (string, error) {
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil && bare != "" {
		return bare, nil
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Image string          `json:"image"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", ErrNoImageData
	}

	if len(envelope.Data) > 0 {
		var dataStr string
		if err := json.Unmarshal(envelope.Data, &dataStr); err == nil && dataStr != "" {
			return dataStr, nil
		}
		var items []struct {
			B64JSON string `json:"b64_json"`
		}
		if err := json.Unmarshal(envelope.Data, &items); err == nil && len(items) > 0 && items[0].B64JSON != "" {
			return items[0].B64JSON, nil
		}
	}

	if envelope.Image != "" {
		return envelope.Image, nil
	}
	return "", ErrNoImageData
}

// ExtractAndDecode is the one-step helper providers use on raw responses.
func ExtractAndDecode(raw json.RawMessage) (Image, error) {
	payload, err := ExtractPayload(raw)
	if err != nil {
		return Image{}, err
	}
	return Decode(payload)
}
