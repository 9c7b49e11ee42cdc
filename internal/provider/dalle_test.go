package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeObjectStore records uploads in memory.
type fakeObjectStore struct {
	uploads map[string][]byte
	types   map[string]string
	err     error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploads: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads[key] = data
	f.types[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

var pngPayload = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("png-body")...)

func TestDalleProviderUploadsBase64Response(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req dalleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "a cat" || req.ResponseFormat != "b64_json" || req.N != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(pngPayload)}},
		})
	}))
	defer srv.Close()

	objects := newFakeObjectStore()
	p := NewDalleProvider(DalleConfig{BaseURL: srv.URL, APIKey: "sk-test"}, objects)

	res := p.GenerateImage(context.Background(), "a cat")
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if !strings.HasPrefix(res.ImageURL, "https://cdn.example.com/dalle-") {
		t.Fatalf("unexpected image URL %q", res.ImageURL)
	}
	if !strings.HasSuffix(res.ImageURL, ".png") {
		t.Fatalf("expected png key, got %q", res.ImageURL)
	}
	if len(objects.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(objects.uploads))
	}
	for key, data := range objects.uploads {
		if string(data) != string(pngPayload) {
			t.Fatal("uploaded bytes mismatch")
		}
		if objects.types[key] != "image/png" {
			t.Fatalf("unexpected content type %q", objects.types[key])
		}
	}
}

func TestDalleProviderReturnsDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://openai.example.com/img.png"}},
		})
	}))
	defer srv.Close()

	objects := newFakeObjectStore()
	p := NewDalleProvider(DalleConfig{BaseURL: srv.URL}, objects)

	res := p.GenerateImage(context.Background(), "a cat")
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.ImageURL != "https://openai.example.com/img.png" {
		t.Fatalf("unexpected image URL %q", res.ImageURL)
	}
	if len(objects.uploads) != 0 {
		t.Fatal("direct URL response must not trigger an upload")
	}
}

func TestDalleProviderFailsOnAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limit exceeded"},
		})
	}))
	defer srv.Close()

	p := NewDalleProvider(DalleConfig{BaseURL: srv.URL}, newFakeObjectStore())
	res := p.GenerateImage(context.Background(), "a cat")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "429") || !strings.Contains(res.Error, "rate limit exceeded") {
		t.Fatalf("error should carry status and upstream message, got %q", res.Error)
	}
}

func TestDalleProviderFailsOnMissingImageData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	p := NewDalleProvider(DalleConfig{BaseURL: srv.URL}, newFakeObjectStore())
	res := p.GenerateImage(context.Background(), "a cat")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "no image data") {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestDalleProviderFailsOnUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(pngPayload)}},
		})
	}))
	defer srv.Close()

	objects := newFakeObjectStore()
	objects.err = errors.New("bucket not found")
	p := NewDalleProvider(DalleConfig{BaseURL: srv.URL}, objects)

	res := p.GenerateImage(context.Background(), "a cat")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "bucket not found") {
		t.Fatalf("upload error should surface, got %q", res.Error)
	}
}
