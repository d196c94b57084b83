package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/sloane/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()

	params := buildParams(llm.Request{Model: "gpt-4o-mini", Prompt: "pitch", Temperature: 0.7, MaxTokens: 80})
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 1 || params.Messages[0].OfUser == nil {
		t.Fatalf("expected a single user message, got %+v", params.Messages)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.7 {
		t.Errorf("Temperature = %+v", params.Temperature)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 80 {
		t.Errorf("MaxCompletionTokens = %+v", params.MaxCompletionTokens)
	}
}

func TestBuildParams_ZeroValuesOmitted(t *testing.T) {
	t.Parallel()

	params := buildParams(llm.Request{Model: "m", Prompt: "p"})
	if params.Temperature.Valid() {
		t.Error("Temperature should be omitted")
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("MaxCompletionTokens should be omitted")
	}
}

func TestGenerate_MissingCredential(t *testing.T) {
	t.Parallel()

	p := New("")
	_, err := p.Generate(context.Background(), llm.Request{Model: "gpt-4o", Prompt: "x"})
	if got := llm.KindOf(err); got != llm.KindMissingCredential {
		t.Fatalf("kind = %v, want missing_credential", got)
	}
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Too slow."}}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	}))
	defer srv.Close()

	p := New("sk-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	resp, err := p.Generate(context.Background(), llm.Request{Model: "gpt-4o-mini", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "Too slow." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
}

func TestGenerate_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		header    string
		body      string
		wantKind  llm.Kind
		wantRetry time.Duration
	}{
		{"rate limited", 429, "3", `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, llm.KindRateLimited, 3 * time.Second},
		{"model not found", 404, "", `{"error":{"message":"no such model","type":"invalid_request_error","code":"model_not_found"}}`, llm.KindModelUnavailable, 0},
		{"bad key", 401, "", `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`, llm.KindInvalidCredential, 0},
		{"server error", 500, "", `{"error":{"message":"oops","type":"server_error","code":""}}`, llm.KindUnknown, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			p := New("sk-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
			_, err := p.Generate(context.Background(), llm.Request{Model: "gpt-4o", Prompt: "x"})
			le, ok := llm.AsError(err)
			if !ok {
				t.Fatalf("error %v is not *llm.Error", err)
			}
			if le.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", le.Kind, tc.wantKind)
			}
			if le.RetryAfter != tc.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", le.RetryAfter, tc.wantRetry)
			}
		})
	}
}
