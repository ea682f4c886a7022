// Package enrichsrc provides HTTP clients for the business data enrichment
// API backing the company-info, social-profile, and contact-discovery
// capabilities.
package enrichsrc

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.businessdata.io/v2"

// Client calls the enrichment API.
type Client struct {
	http *resty.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(url)
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// NewClient creates an enrichment API client.
func NewClient(apiKey string, opts ...Option) *Client {
	http := resty.New().
		SetBaseURL(defaultBaseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")

	c := &Client{http: http}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CompanyInfo is the firmographic record for a company.
type CompanyInfo struct {
	Description   string `json:"description"`
	EmployeeCount string `json:"employee_count"`
	Founded       string `json:"founded"`
	RevenueRange  string `json:"revenue_range"`
	Industry      string `json:"industry"`
	Website       string `json:"website"`
}

// SocialProfile holds a company's social presence.
type SocialProfile struct {
	LinkedInURL string `json:"linkedin_url"`
	TwitterURL  string `json:"twitter_url"`
	FacebookURL string `json:"facebook_url"`
}

// Contact is a discovered point of contact at a company.
type Contact struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type lookupRequest struct {
	Company  string `json:"company"`
	Website  string `json:"website,omitempty"`
	Location string `json:"location,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// LookupCompany fetches firmographics for a company.
func (c *Client) LookupCompany(ctx context.Context, company, website, location string) (*CompanyInfo, error) {
	var info CompanyInfo
	if err := c.post(ctx, "/company/lookup", lookupRequest{Company: company, Website: website, Location: location}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LookupSocial fetches a company's social profiles.
func (c *Client) LookupSocial(ctx context.Context, company, website string) (*SocialProfile, error) {
	var profile SocialProfile
	if err := c.post(ctx, "/social/lookup", lookupRequest{Company: company, Website: website}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// DiscoverContacts finds points of contact at a company. Results are ranked
// by the API; the first contact is the best candidate.
func (c *Client) DiscoverContacts(ctx context.Context, company, website string) ([]Contact, error) {
	var contacts []Contact
	if err := c.post(ctx, "/contacts/discover", lookupRequest{Company: company, Website: website}, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return eris.Wrapf(err, "enrichsrc: POST %s", path)
	}

	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return &StatusError{Code: resp.StatusCode(), Message: msg}
	}
	return nil
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("enrichsrc: status %d: %s", e.Code, e.Message)
}
