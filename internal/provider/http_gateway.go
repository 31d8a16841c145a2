// internal/provider/http_gateway.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPGateway sends through the provider's REST API. Each call carries a hard
// timeout via the request context; a call that exceeds it surfaces as a
// transient error.
type HTTPGateway struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPGateway(baseURL, token string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Send(ctx context.Context, destination, content, account string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"to":      destination,
		"content": content,
		"account": account,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.Token)

	resp, err := g.Client.Do(req)
	if err != nil {
		// network fault or context deadline: nothing reached the provider
		// for sure, retry is safe (the provider API is at-least-once)
		return "", &SendError{Kind: KindTransient, Code: "network", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ack struct {
			MessageID string `json:"message_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil || ack.MessageID == "" {
			return "", &SendError{Kind: KindTransient, Code: "bad_ack", Message: "acknowledgment missing message_id"}
		}
		return ack.MessageID, nil
	}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return "", classifyStatus(resp.StatusCode, body.Code, body.Message)
}

func classifyStatus(status int, code, message string) *SendError {
	kind := KindTransient
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindSystemic
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		kind = KindTransient
	case status >= 500:
		kind = KindTransient
	case status >= 400:
		kind = KindPermanent
	}
	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &SendError{Kind: kind, Code: code, Message: message}
}
