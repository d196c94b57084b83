package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sloane/pkg/provider/llm"
)

type fakeAPI struct {
	mu     sync.Mutex
	paths  []string
	bodies []string
	status int
	body   string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, string(b))
	status, body := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newTestProvider(t *testing.T, api *fakeAPI) *Provider {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return New("test-key", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
}

func TestGenerate_MissingCredential(t *testing.T) {
	t.Parallel()

	p := New("   ")
	if p.HasCredential() {
		t.Fatal("HasCredential() = true for blank key")
	}
	_, err := p.Generate(context.Background(), llm.Request{Model: "gemini-2.0-flash", Prompt: "hi"})
	if got := llm.KindOf(err); got != llm.KindMissingCredential {
		t.Fatalf("kind = %v, want missing_credential (err=%v)", got, err)
	}
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{body: `{
		"candidates":[{"content":{"role":"model","parts":[{"text":"Numbers. Now."}]}}],
		"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":3,"totalTokenCount":15}
	}`}
	p := newTestProvider(t, api)

	resp, err := p.Generate(context.Background(), llm.Request{Model: "gemini-2.0-flash", Prompt: "User says: \"hello\""})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "Numbers. Now." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.paths) != 1 || !strings.Contains(api.paths[0], "gemini-2.0-flash:generateContent") {
		t.Errorf("paths = %v", api.paths)
	}
	if !strings.Contains(api.bodies[0], `User says: \"hello\"`) {
		t.Errorf("prompt not forwarded: %s", api.bodies[0])
	}
}

func TestGenerate_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   llm.Kind
		wantRetry  time.Duration
		wantStatus int
	}{
		{
			name:   "rate limited with retry info",
			status: 429,
			body: `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED","details":[
				{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"17.3s"}]}}`,
			wantKind:   llm.KindRateLimited,
			wantRetry:  17300 * time.Millisecond,
			wantStatus: 429,
		},
		{
			name:       "rate limited without retry info",
			status:     429,
			body:       `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`,
			wantKind:   llm.KindRateLimited,
			wantStatus: 429,
		},
		{
			name:       "unknown model",
			status:     404,
			body:       `{"error":{"code":404,"message":"models/gemini-9 is not found","status":"NOT_FOUND"}}`,
			wantKind:   llm.KindModelUnavailable,
			wantStatus: 404,
		},
		{
			name:       "overloaded",
			status:     503,
			body:       `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`,
			wantKind:   llm.KindModelUnavailable,
			wantStatus: 503,
		},
		{
			name:       "bad key",
			status:     400,
			body:       `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`,
			wantKind:   llm.KindInvalidCredential,
			wantStatus: 400,
		},
		{
			name:       "plain text internal error",
			status:     500,
			body:       `boom`,
			wantKind:   llm.KindUnknown,
			wantStatus: 500,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := newTestProvider(t, &fakeAPI{status: tc.status, body: tc.body})
			_, err := p.Generate(context.Background(), llm.Request{Model: "gemini-2.0-flash", Prompt: "x"})
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
			if le.StatusCode != tc.wantStatus {
				t.Errorf("StatusCode = %d, want %d", le.StatusCode, tc.wantStatus)
			}
			if le.Model != "gemini-2.0-flash" {
				t.Errorf("Model = %q", le.Model)
			}
		})
	}
}

func TestGenerate_ContextDeadlineIsNotClassified(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	p := New("k", WithBaseURL(srv.URL+"/"), WithHTTPClient(srv.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, llm.Request{Model: "gemini-2.0-flash", Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if _, ok := llm.AsError(err); ok {
		t.Error("deadline error should not be classified as *llm.Error")
	}
}
