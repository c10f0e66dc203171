package cloud

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // request signing scheme fixed by the vendor
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
	"github.com/duwi2024/duwi-bridge/internal/infrastructure/logging"
)

// Client identification sent with every request. The platform gates
// some behavior on these, so they mirror the official app.
const (
	appVersion    = "1.0.0"
	clientVersion = "1.0.0"
	clientModel   = "linux"
)

// Response is the platform's uniform result envelope.
type Response struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// OK reports whether the call succeeded.
func (r *Response) OK() bool {
	return r.Code == CodeSuccess
}

// TokenInfo is the credential set issued at login and refresh.
type TokenInfo struct {
	AccessToken           string `json:"accessToken"`
	RefreshToken          string `json:"refreshToken"`
	AccessTokenExpireTime string `json:"accessTokenExpireTime"`
}

// TokenListener is notified whenever the client's tokens change, so the
// caller can persist them across restarts.
type TokenListener func(info TokenInfo)

// Client is the signed REST client for the vendor cloud platform.
//
// Every request carries an MD5 signature over the canonical body, the
// app secret and a millisecond timestamp. Transport failures are folded
// into sentinel result codes rather than errors, so callers handle one
// failure surface.
type Client struct {
	cfg  config.CloudConfig
	log  *logging.Logger
	http *http.Client

	houseNo   string
	houseName string

	tokenMu       sync.RWMutex
	accessToken   string
	refreshToken  string
	expireTime    time.Time
	tokenListener TokenListener
}

// NewClient builds a cloud client from configuration. Tokens start
// empty; call Login or SetTokens before issuing authenticated calls.
func NewClient(cfg config.CloudConfig, house config.HouseConfig, log *logging.Logger) *Client {
	return &Client{
		cfg:       cfg,
		log:       log.With("component", "cloud"),
		http:      &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		houseNo:   house.HouseNo,
		houseName: house.HouseName,
	}
}

// OnTokenChange registers the persistence callback.
func (c *Client) OnTokenChange(fn TokenListener) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.tokenListener = fn
}

// SetTokens installs previously persisted credentials.
func (c *Client) SetTokens(info TokenInfo) {
	c.storeTokens(info, false)
}

func (c *Client) storeTokens(info TokenInfo, notify bool) {
	c.tokenMu.Lock()
	c.accessToken = info.AccessToken
	c.refreshToken = info.RefreshToken
	c.expireTime = parseExpireTime(info.AccessTokenExpireTime)
	fn := c.tokenListener
	c.tokenMu.Unlock()

	if notify && fn != nil {
		fn(info)
	}
}

// TokenExpiry returns when the access token lapses. The zero time means
// no token is held or the platform sent no expiry.
func (c *Client) TokenExpiry() time.Time {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.expireTime
}

// AccessToken returns the current access token.
func (c *Client) AccessToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.accessToken
}

// HouseNo returns the configured house number.
func (c *Client) HouseNo() string {
	return c.houseNo
}

// parseExpireTime accepts the platform's ISO-style expiry strings.
func parseExpireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// sign computes the request signature: MD5 over the canonical body, the
// app secret and the millisecond timestamp, hex encoded.
func (c *Client) sign(canonical string, timestamp int64) string {
	sum := md5.Sum([]byte(canonical + c.cfg.AppSecret + fmt.Sprint(timestamp))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// canonicalQuery renders query parameters for signing: keys sorted,
// joined with &, whitespace stripped.
func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+query.Get(k))
	}
	joined := strings.Join(parts, "&")
	for _, ws := range []string{" ", "\t", "\n", "\r"} {
		joined = strings.ReplaceAll(joined, ws, "")
	}
	return joined
}

// do issues one signed request. Transport-level failures come back as
// envelopes with sentinel codes; err is reserved for malformed input.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	var (
		canonical string
		reqBody   []byte
		err       error
	)
	if method == http.MethodGet || body == nil {
		canonical = canonicalQuery(query)
	} else {
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s body: %w", path, err)
		}
		canonical = string(reqBody)
	}

	reqURL := c.cfg.Address + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}

	timestamp := time.Now().UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("accessToken", c.AccessToken())
	req.Header.Set("appkey", c.cfg.AppKey)
	req.Header.Set("time", fmt.Sprint(timestamp))
	req.Header.Set("sign", c.sign(canonical, timestamp))
	req.Header.Set("appVersion", appVersion)
	req.Header.Set("clientVersion", clientVersion)
	req.Header.Set("clientModel", clientModel)

	resp, err := c.http.Do(req)
	if err != nil {
		code := CodeNetworkError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
			isTimeout(err) {
			code = CodeTimeout
		}
		c.log.Warn("request failed", "path", path, "error", err)
		return &Response{Code: code, Message: err.Error()}, nil
	}
	defer resp.Body.Close()

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.log.Error("unexpected response format", "path", path, "error", err)
		return &Response{Code: CodeSysError, Message: "malformed response"}, nil
	}
	return &envelope, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// get issues a signed GET, retrying transport-level failures.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.withRetry(ctx, func() (*Response, error) {
		return c.do(ctx, http.MethodGet, path, query, nil)
	})
}

// post issues a signed POST, retrying transport-level failures.
func (c *Client) post(ctx context.Context, path string, body any) (*Response, error) {
	return c.withRetry(ctx, func() (*Response, error) {
		return c.do(ctx, http.MethodPost, path, nil, body)
	})
}

// put issues a signed PUT without retry; token operations must not be
// replayed blindly.
func (c *Client) put(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, nil, body)
}

// withRetry re-attempts calls that failed at the transport level, up to
// the configured bound.
func (c *Client) withRetry(ctx context.Context, call func() (*Response, error)) (*Response, error) {
	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var resp *Response
	var err error
	for i := 0; i < attempts; i++ {
		resp, err = call()
		if err != nil {
			return nil, err
		}
		if !resp.Code.Retriable() {
			return resp, nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return resp, ctx.Err()
			case <-time.After(time.Second << i):
			}
		}
	}
	return resp, nil
}
