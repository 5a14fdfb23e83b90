package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-pac/internal/pac/common/log"
	"github.com/haukened/rr-pac/internal/pac/domain"
)

// maxResponseBytes caps remote payloads.
const maxResponseBytes = 64 << 20

// Client fetches domain lists and JSON documents from a remote endpoint.
type Client struct {
	url    string
	http   *http.Client
	logger logpkg.Logger
}

// NewClient returns a Client for url. timeout bounds every request.
func NewClient(url string, timeout time.Duration, logger logpkg.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logpkg.GetLogger()
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// URL returns the endpoint the client fetches.
func (c *Client) URL() string { return c.url }

// FetchList downloads the endpoint and decodes it as a JSON array of strings
// or, when the body does not start with '[', as a plain newline list.
func (c *Client) FetchList(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	br := bufio.NewReader(io.LimitReader(body, maxResponseBytes))
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrTransport, c.url, err)
	}

	var list []string
	if first == '[' {
		list, err = ParseJSONList(br, c.url, c.logger)
	} else {
		list, err = ParsePlainList(br, c.url, c.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrTransport, c.url, err)
	}
	return list, nil
}

// FetchJSON downloads the endpoint and decodes it into dst.
func (c *Client) FetchJSON(ctx context.Context, dst any) error {
	body, err := c.get(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(io.LimitReader(body, maxResponseBytes)).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrTransport, c.url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status from %s: %s", domain.ErrTransport, c.url, resp.Status)
	}
	return resp.Body, nil
}

// peekNonSpace returns the first non-whitespace byte without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if strings.ContainsRune(" \t\r\n", rune(b[0])) {
			_, _ = br.ReadByte()
			continue
		}
		return b[0], nil
	}
}
