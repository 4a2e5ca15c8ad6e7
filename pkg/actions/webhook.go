package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/template"
)

// IdempotencyHeader carries <executionId>-<programCounter> on every webhook request.
const IdempotencyHeader = "Idempotency-Key"

const maxWebhookBody = 1 << 20

func (e *Executor) webhook(ctx context.Context, actionID string, spec models.Webhook, in Input) (Result, error) {
	key := in.IdempotencyKey()

	data := maps.Clone(in.Context)
	if data == nil {
		data = map[string]any{}
	}

	data["action"] = map[string]any{"id": actionID, "idempotencyKey": key}

	req, err := e.buildWebhookRequest(ctx, actionID, spec, data)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.webhookTimeout)
	defer cancel()

	req = req.WithContext(ctx)
	req.Header.Set(IdempotencyHeader, key)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, newError(KindWebhookTimeout, actionID, req.URL.Redacted(), err)
		}

		return Result{}, newError(KindChannelSendFailed, actionID, "webhook request failed", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookBody))
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{}, newError(KindWebhookTimeout, actionID, "reading response", err)
		}

		return Result{}, newError(KindChannelSendFailed, actionID, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &Error{
			Kind:       KindWebhookNon2xx,
			ActionID:   actionID,
			Message:    resp.Status,
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
		}
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	return Result{
		Output: map[string]any{
			"status_code":     resp.StatusCode,
			"body":            body,
			"idempotency_key": key,
		},
	}, nil
}

func (e *Executor) buildWebhookRequest(ctx context.Context, actionID string, spec models.Webhook, data map[string]any) (*http.Request, error) {
	rawURL := template.Render(spec.URL, data)

	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, newError(KindRenderError, actionID, "invalid webhook url "+rawURL, err)
	}

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodPost
	}

	var (
		body        io.Reader
		rendered    string
		contentType = "text/plain; charset=utf-8"
	)

	if template.IsJSONDocument(spec.BodyTemplate) {
		rendered = template.RenderDocument(spec.BodyTemplate, data)
		contentType = "application/json"
	} else {
		rendered = template.Render(spec.BodyTemplate, data)
	}

	if rendered != "" {
		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, newError(KindRenderError, actionID, "failed to create webhook request", err)
	}

	if rendered != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for key, value := range spec.Headers {
		req.Header.Set(key, template.Render(value, data))
	}

	return req, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
