// Package client talks to an objecthub server: the HTTP request API and the
// websocket push channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/propagation"

	"github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/telemetry"
)

// Client calls the request API.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the API at baseURL (e.g. "http://localhost:3193").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish replaces the metadata of key.
func (c *Client) Publish(ctx context.Context, key string, meta map[string]any) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "encoding metadata", errors.WithKey(key))
	}
	return c.call(ctx, http.MethodPost, "/publish", keyed(key), body, nil)
}

// PutData replaces the payload of key.
func (c *Client) PutData(ctx context.Context, key string, data []byte) error {
	return c.call(ctx, http.MethodPut, "/publish", keyed(key), data, nil)
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.call(ctx, http.MethodPost, "/delete", keyed(key), nil, nil)
}

// Control broadcasts meta to every attached client.
func (c *Client) Control(ctx context.Context, meta any) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "encoding control message")
	}
	return c.call(ctx, http.MethodPost, "/control", nil, body, nil)
}

// Query asks every attached client and returns their replies in arrival
// order.
func (c *Client) Query(ctx context.Context) ([]json.RawMessage, error) {
	var replies []json.RawMessage
	if err := c.call(ctx, http.MethodPost, "/query", nil, nil, &replies); err != nil {
		return nil, err
	}
	return replies, nil
}

// Metadata returns the metadata of key, nil when it has none.
func (c *Client) Metadata(ctx context.Context, key string) (map[string]any, error) {
	var meta map[string]any
	if err := c.call(ctx, http.MethodGet, "/object", keyed(key), nil, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Data returns the payload of key.
func (c *Client) Data(ctx context.Context, key string) ([]byte, error) {
	q := keyed(key)
	q.Set("data", "")
	resp, err := c.do(ctx, http.MethodGet, "/object", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "reading payload", errors.WithKey(key))
	}
	return data, nil
}

// List returns the keys that have metadata.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var keys []string
	if err := c.call(ctx, http.MethodGet, "/list", nil, nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func keyed(key string) url.Values {
	return url.Values{"key": []string{key}}
}

// call performs a request and decodes a JSON response into out when set.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	resp, err := c.do(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInternal, "decoding "+path+" response")
	}
	return nil
}

// do sends the request and turns non-2xx replies into errors.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Response, error) {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "building request")
	}
	if body != nil {
		if path == "/publish" && method == http.MethodPut {
			req.Header.Set("Content-Type", "application/octet-stream")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	telemetry.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), method+" "+path)
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeNetworkErr, method+" "+path)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

// decodeError rebuilds the server's structured error, falling back to a
// code derived from the status.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	apiErr := &errors.Error{}
	if err := json.Unmarshal(raw, apiErr); err == nil && apiErr.Code() != "" {
		return apiErr
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return errors.New(codeFor(resp.StatusCode), msg)
}

func codeFor(status int) errors.ErrorCode {
	switch status {
	case http.StatusNotFound:
		return errors.ErrCodeNotFound
	case http.StatusForbidden:
		return errors.ErrCodeReadOnly
	case http.StatusBadRequest:
		return errors.ErrCodeInvalidInput
	case http.StatusGatewayTimeout:
		return errors.ErrCodeTimeout
	case http.StatusMethodNotAllowed:
		return errors.ErrCodeUnsupported
	default:
		return errors.ErrCodeInternal
	}
}
