package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sendGridURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridConfig holds SendGrid configuration
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Endpoint overrides the API URL, for tests.
	Endpoint string
}

// SendGridClient posts messages to the SendGrid v3 API.
type SendGridClient struct {
	config     SendGridConfig
	httpClient *http.Client
}

func NewSendGridClient(config SendGridConfig) *SendGridClient {
	if config.Endpoint == "" {
		config.Endpoint = sendGridURL
	}
	return &SendGridClient{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EmailMessage represents an email to send
type EmailMessage struct {
	To          string
	ToName      string
	Subject     string
	HTMLContent string
	TextContent string
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendGridContent `json:"content"`
}

// Send delivers msg. Plain text goes first as SendGrid requires.
func (c *SendGridClient) Send(ctx context.Context, msg *EmailMessage) error {
	if strings.TrimSpace(c.config.APIKey) == "" {
		return fmt.Errorf("sendgrid config error: api key is empty")
	}

	var req sendGridRequest
	req.Personalizations = make([]struct {
		To []sendGridAddress `json:"to"`
	}, 1)
	req.Personalizations[0].To = []sendGridAddress{{Email: msg.To, Name: msg.ToName}}
	req.From = sendGridAddress{Email: c.config.FromEmail, Name: c.config.FromName}
	req.Subject = msg.Subject
	if msg.TextContent != "" {
		req.Content = append(req.Content, sendGridContent{Type: "text/plain", Value: msg.TextContent})
	}
	if msg.HTMLContent != "" {
		req.Content = append(req.Content, sendGridContent{Type: "text/html", Value: msg.HTMLContent})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("sendgrid marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
