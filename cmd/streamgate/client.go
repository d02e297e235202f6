package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/streamgate/internal/config"
)

// APIClient reads the status API of a running control plane.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client. insecure skips certificate
// verification, for self-signed status API certificates.
func NewAPIClient(baseURL string, timeout time.Duration, insecure bool) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if insecure {
		// #nosec G402 opt-in via --insecure
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

func newQueryClient(g *GlobalFlags, f *QueryFlags) (*APIClient, error) {
	if f.APIUrl != "" {
		return NewAPIClient(f.APIUrl, f.APITimeout, f.Insecure), nil
	}
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	return NewAPIClient(apiURL(cfg.Server), f.APITimeout, f.Insecure), nil
}

// apiURL is where a local control plane serving s can be reached.
func apiURL(s config.ServerConfig) string {
	host, port, err := net.SplitHostPort(s.Listen)
	if err != nil {
		host, port = s.Listen, "80"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := strings.TrimRight(strings.TrimSpace(s.BasePath), "/")
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	scheme := "http://"
	if s.TLS.Enabled {
		scheme = "https://"
	}
	return scheme + net.JoinHostPort(host, port) + base
}

// Processes writes one worker (name set) or all workers as indented JSON.
func (c *APIClient) Processes(w io.Writer, name string) error {
	p := "/processes"
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return c.get(w, p)
}

// Paths writes one path (name set) or all paths as indented JSON.
func (c *APIClient) Paths(w io.Writer, name string) error {
	p := "/paths"
	if name != "" {
		p += "/" + strings.TrimPrefix(name, "/")
	}
	return c.get(w, p)
}

func (c *APIClient) get(w io.Writer, path string) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errorResp) == nil && errorResp.Error != "" {
			return fmt.Errorf("API error: %s", errorResp.Error)
		}
		return fmt.Errorf("API error: %s", resp.Status)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	_, err = fmt.Fprintln(w, out.String())
	return err
}
