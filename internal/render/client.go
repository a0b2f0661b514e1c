// Package render calls the external document renderer over HTTP.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mind-engage/mindengage-cert/internal/certificate"
)

// Client posts certificate fields as JSON and returns the rendered document.
type Client struct {
	http *resty.Client
	path string
}

const (
	defaultTimeout = 30 * time.Second
	retries        = 2
	maxRetryWait   = 2 * time.Second
)

// WorstCase is the longest one Render call can take: every attempt timing out
// plus the longest backoff between attempts.
func WorstCase(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return time.Duration(retries+1)*timeout + retries*maxRetryWait
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(maxRetryWait).
		SetHeader("Accept", "application/pdf")
	c.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})
	return &Client{http: c, path: "/render/certificate"}
}

type request struct {
	Name          string `json:"name"`
	Certification string `json:"certification"`
	Date          string `json:"date"`
	IDNumber      string `json:"id_number"`
}

func (c *Client) Render(ctx context.Context, in certificate.RenderInput) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{
			Name:          in.Name,
			Certification: in.Certification,
			Date:          in.Date.Format("2006-01-02"),
			IDNumber:      in.IDNumber,
		}).
		Post(c.path)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("render: unexpected status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("render: empty document")
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
