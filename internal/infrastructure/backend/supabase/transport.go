package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"memberdash/internal/core/domain"
	"memberdash/pkg/circuitbreaker"
	"memberdash/pkg/tracing"

	"go.opentelemetry.io/otel/codes"
)

// APIError is a non-2xx answer from GoTrue or PostgREST.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d: %s", e.Status, e.Message)
}

// errorBody covers the error shapes of both services: GoTrue uses
// msg/error_code/error_description, PostgREST uses code/message.
type errorBody struct {
	Code             string `json:"code"`
	ErrorCode        string `json:"error_code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		apiErr.Code = firstNonEmpty(eb.ErrorCode, eb.Code, eb.Error)
		apiErr.Message = firstNonEmpty(eb.Message, eb.Msg, eb.ErrorDescription)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    interface{}
	headers map[string]string
}

// transport sends requests with one set of credentials. The breaker is
// shared by every transport of a factory.
type transport struct {
	baseURL string
	apiKey  string
	bearer  string
	schema  string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func (t *transport) withBearer(token string) *transport {
	clone := *t
	clone.bearer = token
	return &clone
}

func (t *transport) do(ctx context.Context, req request, out interface{}) error {
	ctx, span := tracing.TraceBackendCall(ctx, "supabase", req.method, req.path)
	defer span.End()

	call := func(ctx context.Context) error {
		return t.send(ctx, req, out)
	}

	var err error
	if t.breaker != nil {
		err = t.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *transport) send(ctx context.Context, req request, out interface{}) error {
	u := t.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("apikey", t.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+t.bearer)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.schema != "" && t.schema != "public" && strings.HasPrefix(req.path, restPrefix) {
		httpReq.Header.Set("Accept-Profile", t.schema)
		httpReq.Header.Set("Content-Profile", t.schema)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: reading response: %v", domain.ErrBackendUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, apiErr)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.path, err)
	}
	return nil
}

// isBackendFailure decides what counts against the breaker: outages and
// server errors, not rejected input.
func isBackendFailure(err error) bool {
	if errors.Is(err, domain.ErrBackendUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Status >= 500
}

func statusOf(err error) int {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.Status
	}
	return 0
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
