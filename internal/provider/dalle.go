package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagemax/internal/imaging"
	"imagemax/internal/storage"
)

const (
	defaultDalleBaseURL = "https://api.openai.com/v1"
	defaultDalleModel   = "dall-e-2"
	defaultImageSize    = "1024x1024"
)

// DalleProvider calls the OpenAI image generation API. Responses carrying a
// direct URL are returned as-is; base64 payloads are decoded and uploaded
// to the object store, and the uploaded asset's public URL is returned.
type DalleProvider struct {
	baseURL    string
	apiKey     string
	model      string
	size       string
	objects    storage.ObjectStore
	httpClient *http.Client
}

// DalleConfig configures the DALL·E strategy.
type DalleConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Size    string
}

// NewDalleProvider builds the DALL·E strategy backed by the given object store.
func NewDalleProvider(cfg DalleConfig, objects storage.ObjectStore) *DalleProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultDalleBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultDalleModel
	}
	size := strings.TrimSpace(cfg.Size)
	if size == "" {
		size = defaultImageSize
	}
	return &DalleProvider{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		size:    size,
		objects: objects,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the provider name used on generation records.
func (p *DalleProvider) Name() string {
	return "dalle"
}

// GenerateImage posts the prompt to the generations endpoint and resolves
// the response to a public image URL. Every fault maps to a failed Result.
func (p *DalleProvider) GenerateImage(ctx context.Context, prompt string) Result {
	reqBody := dalleRequest{
		Model:          p.model,
		Prompt:         prompt,
		N:              1,
		Size:           p.size,
		ResponseFormat: "b64_json",
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return failure(fmt.Sprintf("dalle marshal request: %v", err))
	}

	url := p.baseURL + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("dalle build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("dalle request: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return failure(fmt.Sprintf("dalle read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp dalleErrorResponse
		_ = json.Unmarshal(raw, &errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return failure(fmt.Sprintf("dalle api error: %d - %s", resp.StatusCode, msg))
	}

	var data dalleResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return failure(fmt.Sprintf("dalle decode response: %v", err))
	}

	// Direct URL responses need no decode/upload round trip.
	if len(data.Data) > 0 && data.Data[0].URL != "" && data.Data[0].B64JSON == "" {
		return success(data.Data[0].URL)
	}

	img, err := imaging.ExtractAndDecode(raw)
	if err != nil {
		return failure(fmt.Sprintf("dalle image payload: %v", err))
	}
	if !imaging.ValidSize(img.Data) {
		return failure(fmt.Sprintf("dalle image too large: %d bytes", len(img.Data)))
	}

	ext := string(img.Format)
	if img.Format == imaging.FormatUnknown {
		ext = "png"
	}
	key := storage.UniqueKey(p.Name(), ext)
	publicURL, err := p.objects.Upload(ctx, key, img.Data, img.MIMEType)
	if err != nil {
		return failure(fmt.Sprintf("dalle upload: %v", err))
	}
	return success(publicURL)
}

// OpenAI images API request/response types.

type dalleRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type dalleResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

type dalleErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
