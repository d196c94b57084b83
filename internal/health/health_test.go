package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type reporter bool

func (r reporter) HasCredential() bool { return bool(r) }

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()
	h := New(CredentialChecker("credential", reporter(false)))

	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %+v", code, body)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	t.Parallel()
	h := New(
		CredentialChecker("credential", reporter(true)),
		Checker{Name: "dispatcher", Check: func(context.Context) error { return nil }},
	)

	code, body := serve(t, h, "/readyz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Fatalf("got %d %+v", code, body)
	}
	if body.Checks["credential"] != "ok" || body.Checks["dispatcher"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_MissingCredentialNotReady(t *testing.T) {
	t.Parallel()
	h := New(
		CredentialChecker("credential", reporter(false)),
		Checker{Name: "other", Check: func(context.Context) error { return nil }},
	)

	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Fatalf("got %d %+v", code, body)
	}
	if !strings.Contains(body.Checks["credential"], ErrNoCredential.Error()) {
		t.Errorf("credential check = %q", body.Checks["credential"])
	}
	if body.Checks["other"] != "ok" {
		t.Errorf("other = %q", body.Checks["other"])
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(context.Context) error {
		time.Sleep(150 * time.Millisecond)
		return nil
	}
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)

	start := time.Now()
	code, _ := serve(t, h, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("readyz took %v, checks ran sequentially", elapsed)
	}
}

func TestReadyz_CheckSeesDeadline(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "deadline", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}})

	if code, body := serve(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("got %d %+v", code, body)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	if code, _ := serve(t, New(), "/readyz"); code != http.StatusOK {
		t.Errorf("code = %d", code)
	}
}
