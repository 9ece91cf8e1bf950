package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client is a thin HTTP client for a consentchain node. Caller identity
// travels as a bearer token when one is set, or as the dev header
// otherwise.
type Client struct {
	BaseURL string
	Caller  string
	Token   string
	http    *http.Client
}

func New(baseURL, caller, token string) *Client {
	return &Client{BaseURL: baseURL, Caller: caller, Token: token, http: &http.Client{}}
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.Caller != "" {
		req.Header.Set("X-Caller-Address", c.Caller)
	}
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("node returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("node returned %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Get performs a GET with query parameters and decodes the JSON reply.
func (c *Client) Get(path string, query url.Values, out interface{}) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, out)
}

// Post sends a JSON payload and decodes the JSON reply.
func (c *Client) Post(path string, payload interface{}, out interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, out)
}

// Pretty renders any decoded JSON value for terminal output.
func Pretty(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
