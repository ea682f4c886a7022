// Package mailgate provides the client for the transactional email
// delivery gateway.
package mailgate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.mailgate.sells.dev/v1"

// SendRequest is one outbound email.
type SendRequest struct {
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	ReplyTo   string `json:"reply_to,omitempty"`
	To        string `json:"to"`
	ToName    string `json:"to_name,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	TrackID   string `json:"track_id,omitempty"`
}

// SendResponse acknowledges an accepted message.
type SendResponse struct {
	MessageID string `json:"message_id"`
}

// Client submits email to the delivery gateway.
type Client interface {
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.http.SetBaseURL(url)
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.SetTimeout(d)
	}
}

type httpClient struct {
	http *resty.Client
}

// NewClient creates a delivery gateway client.
func NewClient(apiKey string, opts ...Option) Client {
	http := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")

	c := &httpClient{http: http}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiError struct {
	Message string `json:"message"`
}

func (c *httpClient) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var result SendResponse
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&apiErr).
		Post("/messages")
	if err != nil {
		return nil, eris.Wrap(err, "mailgate: send")
	}

	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, &StatusError{Code: resp.StatusCode(), Message: msg}
	}
	return &result, nil
}

// StatusError reports a non-2xx gateway response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mailgate: status %d: %s", e.Code, e.Message)
}
