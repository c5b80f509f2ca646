package eureka

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Client reads from the Eureka REST API. Requests ask for JSON, Eureka
// answers in XML otherwise.
type Client struct {
	BaseURL *url.URL
	client  *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	// Eureka base URLs usually end in /eureka, without the trailing slash
	// relative paths would replace the last segment.
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{BaseURL: u, client: httpClient}, nil
}

// Get decodes the JSON document at path into v. A non 2xx answer is returned
// as *ErrorResponse.
func (c *Client) Get(ctx context.Context, path string, v interface{}) error {
	u, err := c.BaseURL.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// If we got an error, and the context has been canceled,
		// the context's error is probably more useful.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return err
	}
	defer resp.Body.Close()

	if c := resp.StatusCode; c < 200 || c > 299 {
		return &ErrorResponse{Response: resp}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", u, err)
	}
	return nil
}

type ErrorResponse struct {
	Response *http.Response
}

func (r *ErrorResponse) Error() string {
	return fmt.Sprintf("%v %v: %d", r.Response.Request.Method, r.Response.Request.URL, r.Response.StatusCode)
}
