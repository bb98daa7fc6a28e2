// Copyright (C) The Candela Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package candela

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"git.candela.io/candela.git/sdk/go/httpserver"
	"github.com/hashicorp/go-retryablehttp"
)

// A Client is an HTTP client with an API endpoint and a set of
// Candela credentials.
//
// It offers methods for calling individual fleet manager APIs, and
// takes care of request IDs, authentication, and retries.
type Client struct {
	// HTTP client used to make requests. If nil,
	// http.DefaultClient is used.
	Client *http.Client `json:"-"`

	// Protocol scheme: "http" or "https". "" means "http".
	Scheme string

	// Hostname (or host:port) of the fleet manager.
	APIHost string

	// Authentication token sent with each request.
	AuthToken string

	// Timeout for requests, including all retries. Zero means no
	// timeout, and also disables retries.
	Timeout time.Duration

	defaultRequestID string
}

// NewClientFromConfig returns a Client that calls the fleet manager
// endpoint in the given cluster config.
//
// AuthToken is left empty for the caller to populate.
func NewClientFromConfig(cluster *Cluster) (*Client, error) {
	fleetURL := cluster.Services.FleetManager.ExternalURL
	if fleetURL.Host == "" {
		return nil, fmt.Errorf("no host in config Services.FleetManager.ExternalURL: %v", fleetURL)
	}
	return &Client{
		Scheme:  fleetURL.Scheme,
		APIHost: fleetURL.Host,
		Timeout: time.Minute,
	}, nil
}

var reqIDGen = httpserver.IDGenerator{Prefix: "req-"}

var nopCancelFunc context.CancelFunc = func() {}

var reqErrorRe = regexp.MustCompile(`net/http: invalid header `)

// Do augments (*http.Client)Do(): adds Authorization and X-Request-Id
// headers, enforces Timeout, and retries failed requests when
// appropriate.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get("Authorization") == "" && c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	if req.Header.Get("X-Request-Id") == "" {
		if reqid, _ := ctx.Value(contextKeyRequestID{}).(string); reqid != "" {
			req.Header.Set("X-Request-Id", reqid)
		} else if c.defaultRequestID != "" {
			req.Header.Set("X-Request-Id", c.defaultRequestID)
		} else {
			req.Header.Set("X-Request-Id", reqIDGen.Next())
		}
	}

	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}

	cancel := nopCancelFunc
	var lastResp *http.Response
	var lastRespBody io.ReadCloser
	var lastErr error
	var checkRetryCalled int

	rclient := retryablehttp.NewClient()
	rclient.HTTPClient = c.httpClient()
	rclient.Backoff = exponentialBackoff
	if c.Timeout > 0 {
		rclient.RetryWaitMax = c.Timeout / 10
		rclient.RetryMax = 32
		ctx, cancel = context.WithDeadline(ctx, time.Now().Add(c.Timeout))
		rreq = rreq.WithContext(ctx)
	} else {
		rclient.RetryMax = 0
	}
	rclient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		checkRetryCalled++
		if c.Timeout == 0 {
			return false, err
		}
		// Pass this through as non-retryable: retryablehttp
		// (as of 0.7.7) would otherwise keep replaying a
		// request the net/http layer will never accept. See
		// https://github.com/hashicorp/go-retryablehttp/pull/210.
		if err != nil && reqErrorRe.MatchString(err.Error()) {
			return false, err
		}
		retrying, err := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if retrying {
			lastResp, lastErr = resp, err
			if resp != nil {
				// Save the response and body so we
				// can return it instead of "deadline
				// exceeded". retryablehttp.Client
				// will drain and discard resp.Body,
				// so we need to stash it separately.
				buf, err := io.ReadAll(resp.Body)
				if err == nil {
					lastRespBody = io.NopCloser(bytes.NewReader(buf))
				} else {
					lastResp, lastRespBody = nil, nil
				}
			}
		}
		return retrying, err
	}
	rclient.Logger = nil

	if ctx.Err() != nil {
		cancel()
		return nil, ctx.Err()
	}
	resp, err := rclient.Do(rreq)
	if (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && (lastResp != nil || lastErr != nil) {
		resp, err = lastResp, lastErr
		if checkRetryCalled > 0 && err != nil {
			// Mimic retryablehttp's "giving up after X
			// attempt(s)" message format.
			err = fmt.Errorf("%s %s giving up after %d attempt(s): %w", req.Method, req.URL.String(), checkRetryCalled, err)
		}
		if resp != nil {
			resp.Body = lastRespBody
		}
	}
	if err != nil {
		cancel()
		return nil, err
	}
	// We need to call cancel() eventually, but we can't use
	// "defer cancel()" because the context has to stay alive
	// until the caller has finished reading the response body.
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, err
}

// Backoff uses the server's Retry-After header if the response has
// one, otherwise exponential backoff with full jitter, in all cases
// respecting min and max.
func exponentialBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	var t time.Duration
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if sleep, err := strconv.ParseInt(s, 10, 64); err == nil {
				t = time.Second * time.Duration(sleep)
			} else if stamp, err := time.Parse(time.RFC1123, s); err == nil {
				t = time.Until(stamp)
			}
		}
	}
	if t == 0 {
		spread := math.Pow(2, float64(attemptNum)) - 1
		if limit := float64(max-min) / float64(time.Second); limit > 0 && spread > limit {
			spread = limit
		}
		t = min + time.Duration(spread*rand.Float64()*float64(time.Second))
	}
	if t < min {
		return min
	} else if t > max {
		return max
	}
	return t
}

// cancelOnClose calls a provided CancelFunc when its wrapped
// ReadCloser's Close() method is called.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (coc cancelOnClose) Close() error {
	err := coc.ReadCloser.Close()
	coc.cancel()
	return err
}

// DoAndDecode performs req and unmarshals the response (which must be
// JSON) into dst. Use this instead of RequestAndDecode if you need
// more control of the http.Request object.
func (c *Client) DoAndDecode(dst interface{}, req *http.Request) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode < 300 && dst == nil:
		return nil
	case resp.StatusCode < 300:
		return json.Unmarshal(buf, dst)
	default:
		return newTransactionError(req, resp, buf)
	}
}

// RequestAndDecode performs an API request and unmarshals the
// response (which must be JSON) into dst. The given path is added to
// the server's scheme/host/port to form the request URL. The given
// opts are sent as a JSON request body, or nothing if opts is nil.
//
// path must not contain a query string.
func (c *Client) RequestAndDecode(dst interface{}, method, path string, opts interface{}) error {
	return c.RequestAndDecodeContext(context.Background(), dst, method, path, opts)
}

// RequestAndDecodeContext does the same as RequestAndDecode, but with a context
func (c *Client) RequestAndDecodeContext(ctx context.Context, dst interface{}, method, path string, opts interface{}) error {
	if c.APIHost == "" {
		return errors.New("candela.Client cannot perform request: APIHost is not set")
	}
	var body io.Reader
	if opts != nil {
		j, err := json.Marshal(opts)
		if err != nil {
			return err
		}
		body = bytes.NewReader(j)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path), body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.DoAndDecode(dst, req)
}

// WithRequestID returns a new shallow copy of c that sends the given
// X-Request-Id value (instead of a new randomly generated one) with
// each subsequent request that doesn't provide its own via context or
// header.
func (c *Client) WithRequestID(reqid string) *Client {
	cc := *c
	cc.defaultRequestID = reqid
	return &cc
}

func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Client) apiURL(path string) string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + c.APIHost + "/" + path
}

type contextKeyRequestID struct{}

// ContextWithRequestID returns a child context that, used with
// (*Client)Do, sends the given X-Request-Id value instead of a
// generated one.
func ContextWithRequestID(ctx context.Context, reqid string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID{}, reqid)
}
