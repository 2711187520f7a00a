// Package lilith talks to the game vendor's gift code API at cdkey.lilith.com.
//
// Every endpoint is a JSON POST whose reply carries an "info" field. Known info
// values map to the sentinel errors or ConsumeResult values of this package; any
// other value becomes an *UnexpectedResponseError so new vendor codes are noticed.
package lilith

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scragly/dreaf/pkg/log"
)

const (
	DefaultBaseURL = "https://cdkey.lilith.com"
	DefaultGame    = "afk"

	endpointSendMail    = "/api/send-mail"
	endpointVerifyCode  = "/api/verify-code"
	endpointVerifyAFK   = "/api/verify-afk-code"
	endpointConsume     = "/api/cd-key/consume"
	endpointUsers       = "/api/users"
	maxResponseBodySize = 1 << 20
)

// Vendor info values.
const (
	infoOK             = "ok"
	infoMailTooOften   = "err_send_mail_too_often"
	infoWrongCode      = "err_wrong_code"
	infoCodeUsed       = "err_cdkey_batch_error"
	infoCodeExpired    = "err_cdkey_expired"
	infoCodeNotFound   = "err_cdkey_record_not_found"
	infoLoginOutOfDate = "err_login_state_out_of_date"
)

// ConsumeResult classifies a cd-key/consume reply.
type ConsumeResult int

const (
	ConsumeOK ConsumeResult = iota
	ConsumeUsed
	ConsumeExpired
	ConsumeNotFound
	ConsumeLoginExpired
)

func (r ConsumeResult) String() string {
	switch r {
	case ConsumeOK:
		return "ok"
	case ConsumeUsed:
		return "used"
	case ConsumeExpired:
		return "expired"
	case ConsumeNotFound:
		return "not_found"
	case ConsumeLoginExpired:
		return "login_expired"
	default:
		return fmt.Sprintf("ConsumeResult(%d)", int(r))
	}
}

// User is one game account listed under a vendor login.
type User struct {
	UID      int64  `json:"uid"`
	IsMain   bool   `json:"is_main"`
	Name     string `json:"name"`
	ServerID int64  `json:"svr_id"`
	Level    int64  `json:"level"`
}

// Options configures NewClient. Zero values take the defaults.
type Options struct {
	BaseURL           string
	Game              string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// Transport is the base round tripper under the rate limiter.
	Transport http.RoundTripper
}

// Client holds what every connection shares: the endpoint, the game and one
// rate-limited transport.
type Client struct {
	baseURL   string
	game      string
	timeout   time.Duration
	transport *RateLimitedTransport
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Game == "" {
		opts.Game = DefaultGame
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		game:      opts.Game,
		timeout:   opts.Timeout,
		transport: NewRateLimitedTransport(opts.Transport, opts.RequestsPerSecond, opts.Burst),
	}
}

// Game returns the vendor game identifier sent with every request.
func (c *Client) Game() string { return c.game }

// Conn is one authenticated vendor login. Its cookie jar is the credential.
type Conn struct {
	client *Client
	jar    *Jar
	http   *http.Client
}

// NewConn opens a connection over jar. A nil jar starts unauthenticated.
func (c *Client) NewConn(jar *Jar) *Conn {
	if jar == nil {
		jar = NewJar()
	}
	return &Conn{
		client: c,
		jar:    jar,
		http: &http.Client{
			Transport: c.transport,
			Jar:       jar,
			Timeout:   c.timeout,
		},
	}
}

// Jar returns the connection's cookie jar.
func (c *Conn) Jar() *Jar { return c.jar }

type envelope struct {
	Info string          `json:"info"`
	Data json.RawMessage `json:"data"`
}

func (c *Conn) post(ctx context.Context, endpoint string, payload any) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.client.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("charset", "UTF-8")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", endpoint, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s: status %d: %w", endpoint, resp.StatusCode, ErrMalformedResponse)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s: status %d: %w", endpoint, resp.StatusCode, errors.Join(ErrMalformedResponse, err))
	}
	log.RedeemLogger().Debug("Vendor call", "endpoint", endpoint, "status", resp.StatusCode, "info", env.Info, "took", time.Since(start))
	return &env, nil
}

func isOK(info string) bool {
	return info == "" || info == infoOK
}

// SendMail asks the vendor to send a verification code to the uid's in-game mailbox.
func (c *Conn) SendMail(ctx context.Context, uid int64) error {
	env, err := c.post(ctx, endpointSendMail, map[string]any{
		"game":   c.client.game,
		"sender": "sender",
		"title":  "Verification Code",
		"uid":    uid,
	})
	if err != nil {
		return err
	}
	switch {
	case isOK(env.Info):
		return nil
	case env.Info == infoMailTooOften:
		return ErrMailTooOften
	default:
		return &UnexpectedResponseError{Endpoint: endpointSendMail, Info: env.Info}
	}
}

// VerifyCode submits a code received by mail after SendMail.
func (c *Conn) VerifyCode(ctx context.Context, uid int64, code string) error {
	return c.verify(ctx, endpointVerifyCode, uid, code)
}

// VerifyAFKCode submits an in-game verification code without a prior SendMail.
func (c *Conn) VerifyAFKCode(ctx context.Context, uid int64, code string) error {
	return c.verify(ctx, endpointVerifyAFK, uid, code)
}

func (c *Conn) verify(ctx context.Context, endpoint string, uid int64, code string) error {
	env, err := c.post(ctx, endpoint, map[string]any{
		"game": c.client.game,
		"uid":  uid,
		"code": strings.TrimSpace(code),
	})
	if err != nil {
		return err
	}
	switch {
	case isOK(env.Info):
		return nil
	case env.Info == infoWrongCode:
		return ErrWrongCode
	default:
		return &UnexpectedResponseError{Endpoint: endpoint, Info: env.Info}
	}
}

// Consume redeems cdkey for uid.
func (c *Conn) Consume(ctx context.Context, uid int64, cdkey string) (ConsumeResult, error) {
	env, err := c.post(ctx, endpointConsume, map[string]any{
		"type":  "cdkey_web",
		"game":  c.client.game,
		"uid":   uid,
		"cdkey": cdkey,
	})
	if err != nil {
		return 0, err
	}
	switch {
	case isOK(env.Info):
		return ConsumeOK, nil
	case env.Info == infoCodeUsed:
		return ConsumeUsed, nil
	case env.Info == infoCodeExpired:
		return ConsumeExpired, nil
	case env.Info == infoCodeNotFound:
		return ConsumeNotFound, nil
	case env.Info == infoLoginOutOfDate:
		return ConsumeLoginExpired, nil
	default:
		return 0, &UnexpectedResponseError{Endpoint: endpointConsume, Info: env.Info}
	}
}

// Users lists the game accounts under the login that uid belongs to.
func (c *Conn) Users(ctx context.Context, uid int64) ([]User, error) {
	env, err := c.post(ctx, endpointUsers, map[string]any{
		"game": c.client.game,
		"uid":  uid,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case isOK(env.Info):
	case env.Info == infoLoginOutOfDate:
		return nil, ErrLoginExpired
	default:
		return nil, &UnexpectedResponseError{Endpoint: endpointUsers, Info: env.Info}
	}

	var data struct {
		Users []User `json:"users"`
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%s: missing data: %w", endpointUsers, ErrMalformedResponse)
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%s: decode users: %w", endpointUsers, errors.Join(ErrMalformedResponse, err))
	}
	return data.Users, nil
}
