// Package client is a client of the admin status API.
package client

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	fspath "path"
	"time"

	"github.com/andydunstall/swimrelay/pkg/status"
)

type Client struct {
	httpClient *http.Client

	url *url.URL
}

func NewClient(url *url.URL, timeout time.Duration, tlsConfig *tls.Config) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		},
		url: url,
	}
}

// Request sends a GET request to the given path and returns the response
// body.
func (c *Client) Request(path string) (io.ReadCloser, error) {
	return c.do(http.MethodGet, path)
}

// Post sends a POST request with no body to the given path.
func (c *Client) Post(path string) error {
	r, err := c.do(http.MethodPost, path)
	if err != nil {
		return err
	}
	return r.Close()
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(method string, path string) (io.ReadCloser, error) {
	url := new(url.URL)
	*url = *c.url

	url.Path = fspath.Join(url.Path, path)

	req, err := http.NewRequest(method, url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		var errorInfo status.ErrorInfo
		if err := json.NewDecoder(resp.Body).Decode(&errorInfo); err == nil && errorInfo.Message != "" {
			return nil, fmt.Errorf("request: %w", &errorInfo)
		}
		return nil, fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

func decode[T any](r io.ReadCloser) (T, error) {
	defer r.Close()

	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}
