package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
)

const httpSchema = `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "pattern": "^https?://"},
    "method": {"type": "string", "enum": ["GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"]},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "timeout": {"type": "string"},
    "expectStatus": {"type": "array", "items": {"type": "integer", "minimum": 100, "maximum": 599}}
  },
  "additionalProperties": false
}`

// maxResponseBody caps how much of a response is kept in the step output.
const maxResponseBody = 1 << 20

var ErrUnexpectedStatus = errors.New("unexpected http status")

// HTTPRequestAction performs one HTTP request. Requests with an idempotent
// method are retried on transport errors and 5xx responses; other methods are
// only retried when the connection never got established.
type HTTPRequestAction struct {
	*action.SchemaValidator
	client *http.Client
}

func NewHTTPRequestAction(client *http.Client) *HTTPRequestAction {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRequestAction{SchemaValidator: action.MustSchemaValidator(TypeHTTPRequest, httpSchema), client: client}
}

func (a *HTTPRequestAction) Description() string { return "Send an HTTP request" }

func (a *HTTPRequestAction) Idempotent() bool { return false }

func (a *HTTPRequestAction) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	method := strings.ToUpper(stringParam(params, "method"))
	if method == "" {
		method = http.MethodGet
	}
	timeout, err := durationParam(params, "timeout")
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, contentType, err := requestBody(params["body"])
	if err != nil {
		return nil, action.NewValidationError("body", err.Error())
	}
	url := stringParam(params, "url")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, action.NewValidationError("url", err.Error())
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	if ec.Logger != nil {
		ec.Logger.DebugContext(ctx, "Sending HTTP request", "method", method, "url", url)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		err = fmt.Errorf("http %s %s: %w", method, url, err)
		if safeMethod(method) {
			return nil, action.Retryable(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := action.Output{
		"status":  resp.StatusCode,
		"headers": flattenHeaders(resp.Header),
		"body":    decodeBody(resp.Header.Get("Content-Type"), raw),
	}

	if !statusAccepted(params, resp.StatusCode) {
		err := fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, url, resp.StatusCode)
		switch {
		case resp.StatusCode >= 500 && safeMethod(method):
			return out, action.Retryable(err)
		case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
			return out, action.Permanent(err)
		}
		return out, err
	}
	return out, nil
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func requestBody(v any) (io.Reader, string, error) {
	switch body := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(body), "", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func statusAccepted(params action.Params, status int) bool {
	expected, ok := params["expectStatus"].([]any)
	if !ok || len(expected) == 0 {
		return status < 400
	}
	for i := range expected {
		if code, ok := intParam(action.Params{"v": expected[i]}, "v"); ok && code == status {
			return true
		}
	}
	return false
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func decodeBody(contentType string, raw []byte) any {
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}
