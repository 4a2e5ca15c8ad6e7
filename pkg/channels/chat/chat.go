// Package chat delivers SEND_CHAT_MESSAGE actions through a chat business API using approved templates.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/followup/pkg/config"
	"github.com/dukex/followup/pkg/protocol"
	"golang.org/x/time/rate"
)

const defaultLanguage = "en_US"

type Sender struct {
	client        *http.Client
	baseURL       string
	phoneNumberID string
	accessToken   string
	limiter       *rate.Limiter
	logger        *slog.Logger
}

func NewSender(cfg config.ChatConfig, logger *slog.Logger) *Sender {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Sender{
		client:        &http.Client{Timeout: cfg.Timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		limiter:       rate.NewLimiter(limit, burst),
		logger:        logger.With("module", "chat_sender"),
	}
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type messageRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templatePayload `json:"template"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (s *Sender) SendChatMessage(ctx context.Context, message protocol.ChatMessage) (protocol.Receipt, error) {
	err := s.limiter.Wait(ctx)
	if err != nil {
		return protocol.Receipt{}, fmt.Errorf("chat rate limit wait: %w", err)
	}

	payload, err := json.Marshal(newMessageRequest(message))
	if err != nil {
		return protocol.Receipt{}, err
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return protocol.Receipt{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return protocol.Receipt{}, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return protocol.Receipt{}, fmt.Errorf("failed to read chat response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return protocol.Receipt{}, fmt.Errorf("chat provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded messageResponse

	err = json.Unmarshal(body, &decoded)
	if err != nil || len(decoded.Messages) == 0 {
		return protocol.Receipt{}, fmt.Errorf("unexpected chat provider response: %s", string(body))
	}

	s.logger.DebugContext(ctx, "chat message sent", "template", message.TemplateName, "message_id", decoded.Messages[0].ID)

	return protocol.Receipt{MessageID: decoded.Messages[0].ID}, nil
}

func newMessageRequest(message protocol.ChatMessage) messageRequest {
	language := message.Language
	if language == "" {
		language = defaultLanguage
	}

	request := messageRequest{
		MessagingProduct: "whatsapp",
		To:               message.To,
		Type:             "template",
		Template: templatePayload{
			Name:     message.TemplateName,
			Language: templateLanguage{Code: language},
		},
	}

	if len(message.Parameters) > 0 {
		parameters := make([]templateParameter, len(message.Parameters))
		for i, p := range message.Parameters {
			parameters[i] = templateParameter{Type: "text", Text: p}
		}

		request.Template.Components = []templateComponent{{Type: "body", Parameters: parameters}}
	}

	return request
}
