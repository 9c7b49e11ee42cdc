package provider

import "context"

// Result is the outcome of one provider's generation attempt. Providers
// never return Go errors for generation faults: every internal failure
// (network, decode, upload) is mapped to Success=false so the orchestrator
// needs no per-provider error handling.
type Result struct {
	ImageURL string
	Success  bool
	Error    string
}

// ImageProvider produces one image from a prompt.
// All strategies (mock, DALL·E, future real providers) implement this.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) Result
	Name() string
}

func failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

func success(url string) Result {
	return Result{ImageURL: url, Success: true}
}
