package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/MrWong99/sloane/internal/dispatch"
	"github.com/MrWong99/sloane/internal/persona"
	"github.com/MrWong99/sloane/pkg/types"
)

// maxResponseBody caps how much of an answer the client reads.
const maxResponseBody = 1 << 20

// ClientOption is a functional option for [NewClient].
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// Client calls a remote relay. It satisfies the session dispatcher
// interface, so a practice session can run against a relay in another
// process.
type Client struct {
	base *url.URL
	hc   *http.Client
}

// NewClient returns a Client for the relay at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("relay: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay: base url %q must be http or https", baseURL)
	}
	c := &Client{base: u, hc: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.JoinPath(path).String()
}

// Dispatch posts u to /api/chat. Transport failures and error answers are
// reduced to a [dispatch.Error] the same way a local dispatch would be.
func (c *Client) Dispatch(ctx context.Context, u types.Utterance) dispatch.Completion {
	body, err := json.Marshal(ChatRequest{
		Message:   u.Text,
		IsWhisper: u.Mode == types.ModeWhisper,
		Level:     json.RawMessage(strconv.Itoa(int(u.Level))),
	})
	if err != nil {
		return failed(u.Mode, &dispatch.Error{Kind: dispatch.KindProvider, Message: err.Error(), Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat"), bytes.NewReader(body))
	if err != nil {
		return failed(u.Mode, &dispatch.Error{Kind: dispatch.KindProvider, Message: err.Error(), Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.hc.Do(req)
	if err != nil {
		return failed(u.Mode, transportError(ctx, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return failed(u.Mode, transportError(ctx, err))
	}

	if resp.StatusCode != http.StatusOK {
		return failed(u.Mode, decodeError(resp, data))
	}

	var cr ChatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return failed(u.Mode, &dispatch.Error{Kind: dispatch.KindProvider, Message: "malformed relay response: " + err.Error(), Err: err})
	}
	if strings.TrimSpace(cr.Response) == "" {
		return failed(u.Mode, &dispatch.Error{Kind: dispatch.KindEmptyResponse, Message: "relay returned an empty reply", Model: cr.Model})
	}
	return dispatch.Completion{Text: cr.Response, Model: cr.Model, Mode: u.Mode}
}

// Levels fetches the scenario catalog.
func (c *Client) Levels(ctx context.Context) ([]persona.Scenario, error) {
	var out []persona.Scenario
	if err := c.getJSON(ctx, "/api/levels", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Voice fetches the speech-synthesis profile.
func (c *Client) Voice(ctx context.Context) (VoiceProfile, error) {
	var out VoiceProfile
	err := c.getJSON(ctx, "/api/voice", &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("relay: get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay: get %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(v); err != nil {
		return fmt.Errorf("relay: decode %s: %w", path, err)
	}
	return nil
}

func failed(mode types.Mode, e *dispatch.Error) dispatch.Completion {
	return dispatch.Completion{Mode: mode, Model: e.Model, Err: e}
}

// transportError classifies a failure that produced no relay answer.
func transportError(ctx context.Context, err error) *dispatch.Error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &dispatch.Error{Kind: dispatch.KindCanceled, Message: "request canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &dispatch.Error{Kind: dispatch.KindTimeout, Message: "relay did not answer in time", Err: err}
	default:
		return &dispatch.Error{Kind: dispatch.KindNetwork, Message: err.Error(), Err: err}
	}
}

// decodeError rebuilds the dispatch failure from an error answer. The kind
// comes from the body when present and from the status otherwise.
func decodeError(resp *http.Response, data []byte) *dispatch.Error {
	var body ErrorBody
	_ = json.Unmarshal(data, &body)

	kind, ok := dispatch.ParseKind(body.Kind)
	if !ok {
		kind = kindForStatus(resp.StatusCode)
	}
	e := &dispatch.Error{Kind: kind, Model: body.Model, Message: body.Details}
	if e.Message == "" {
		e.Message = body.Error
	}
	if e.Message == "" {
		e.Message = resp.Status
	}
	if kind == dispatch.KindRateLimited {
		secs := body.RetryAfter
		if secs <= 0 {
			secs, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
		}
		if secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

func kindForStatus(status int) dispatch.Kind {
	switch status {
	case http.StatusTooManyRequests:
		return dispatch.KindRateLimited
	case http.StatusBadRequest:
		return dispatch.KindEmptyInput
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return dispatch.KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return dispatch.KindNetwork
	default:
		return dispatch.KindProvider
	}
}
