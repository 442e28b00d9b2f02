package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"kis-router/internal/account"
)

const tokenPath = "/oauth2/tokenP"

// brokerTimeFormat is how the broker renders timestamps, wallclock KST.
const brokerTimeFormat = "2006-01-02 15:04:05"

// Auth issues and caches the OAuth access token for one account. The broker
// rate-limits token issuance hard (roughly one per minute per app key), so
// the token is reused until its reported expiry and refreshes are
// single-flighted under the mutex.
type Auth struct {
	acc    *account.Account
	http   *resty.Client
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewAuth(acc *account.Account, httpClient *resty.Client, logger *slog.Logger) *Auth {
	return &Auth{
		acc:    acc,
		http:   httpClient,
		logger: logger.With("component", "auth", "account", acc.ID),
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiredAt   string `json:"access_token_token_expired"`

	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// Token returns the cached access token, refreshing it when expired.
func (a *Auth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Before(a.expiresAt) {
		return a.token, nil
	}
	return a.refreshLocked(ctx)
}

func (a *Auth) refreshLocked(ctx context.Context) (string, error) {
	var out tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json; charset=utf-8").
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     a.acc.AppKey,
			"appsecret":  a.acc.AppSecret,
		}).
		SetResult(&out).
		SetError(&out).
		Post(tokenPath)
	if err != nil {
		return "", fmt.Errorf("request access token: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("request access token: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("request access token: [%s] %s", out.ErrorCode, out.ErrorDescription)
	}

	a.token = out.AccessToken
	a.expiresAt = a.parseExpiry(out)
	a.logger.Info("access token issued", "expires_at", a.expiresAt.Format(brokerTimeFormat))
	return a.token, nil
}

// parseExpiry trusts the broker's wallclock expiry string and falls back to
// expires_in, then to a conservative 23h, when it is absent or malformed.
func (a *Auth) parseExpiry(out tokenResponse) time.Time {
	if out.ExpiredAt != "" {
		if t, err := time.ParseInLocation(brokerTimeFormat, out.ExpiredAt, seoul); err == nil {
			return t
		}
		a.logger.Warn("unparsable token expiry", "value", out.ExpiredAt)
	}
	if out.ExpiresIn > 0 {
		return a.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return a.now().Add(23 * time.Hour)
}

// Headers builds the authenticated header set for a broker call. Virtual
// accounts get the TR ID rewritten to its V-form here, after selection.
func (a *Auth) Headers(ctx context.Context, trID string) (map[string]string, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"content-type":  "application/json; charset=utf-8",
		"authorization": "Bearer " + token,
		"appkey":        a.acc.AppKey,
		"appsecret":     a.acc.AppSecret,
		"tr_id":         VirtualizeTR(trID, a.acc.IsVirtual),
		"tr_cont":       "",
		"custtype":      "P",
	}, nil
}

// Valid reports whether a cached token exists and has not expired.
func (a *Auth) Valid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != "" && a.now().Before(a.expiresAt)
}

// Invalidate drops the cached token, forcing the next call to reissue.
func (a *Auth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
	a.expiresAt = time.Time{}
}
