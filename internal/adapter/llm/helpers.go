package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
)

// maxResponseBody is the maximum non-streamed response size we read.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// doJSONRequest marshals payload, sends it and returns the response body.
// Transport failures become ErrBackendUnreachable carrying remediation;
// non-2xx statuses become ErrBackendProtocol.
func doJSONRequest(ctx context.Context, client *http.Client, method, url string, payload any, headers map[string]string, op, remediation string) ([]byte, error) {
	resp, err := send(ctx, client, method, url, payload, headers, op, remediation)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewDomainError(op, domain.ErrBackendUnreachable, "connection lost while reading response: "+err.Error())
	}
	return body, nil
}

// doStreamRequest sends payload and returns the open response for the
// caller to consume. The caller must close Body.
func doStreamRequest(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string, op, remediation string) (*http.Response, error) {
	return send(ctx, client, http.MethodPost, url, payload, headers, op, remediation)
}

func send(ctx context.Context, client *http.Client, method, url string, payload any, headers map[string]string, op, remediation string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, op, remediation, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, domain.WrapOp(op, mapHTTPError(httpResp.StatusCode, respBody))
	}
	return httpResp, nil
}

// classifyTransportError separates cancellation from an unreachable backend.
// Anything that failed before a response arrived counts as unreachable.
func classifyTransportError(ctx context.Context, op, remediation string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	detail := err.Error()
	if remediation != "" {
		detail = remediation + " (" + detail + ")"
	}
	return domain.NewDomainError(op, domain.ErrBackendUnreachable, detail)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// mapHTTPError maps an HTTP status code + response body to a protocol error,
// additionally tagged with the resilience sentinel the status implies.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, bytes.TrimSpace(body))

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrBackendProtocol, domain.ErrRateLimit, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrBackendProtocol, domain.ErrAuthInvalid, detail)
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %w: %s", domain.ErrBackendProtocol, domain.ErrContextOverflow, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrBackendProtocol, domain.ErrNotFound, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrBackendProtocol, detail)
	}
}

// malformed reports an undecodable response envelope.
func malformed(op string, err error) error {
	return domain.NewDomainError(op, domain.ErrBackendProtocol, "malformed response: "+err.Error())
}

// sendEvent delivers ev unless ctx is done first.
func sendEvent(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
