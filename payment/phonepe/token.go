package phonepe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/xraph/tokenvault/payment"
)

// DefaultTokenTTL bounds how long an access token is reused. PhonePe
// tokens carry their own expiry and the shorter of the two wins.
const DefaultTokenTTL = 50 * time.Minute

// expirySkew refreshes a token slightly before the gateway rejects it.
const expirySkew = 30 * time.Second

// TokenSource yields a valid OAuth access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) { return string(s), nil }

type accessToken struct {
	value     string
	expiresAt time.Time
}

// CachedTokenSource fetches client-credential tokens and shares them across
// goroutines. Concurrent misses collapse into one upstream call.
type CachedTokenSource struct {
	cfg   Config
	http  *http.Client
	cache *expirable.LRU[string, accessToken]
	group singleflight.Group
	now   func() time.Time
}

// NewCachedTokenSource builds a token source with the given TTL.
func NewCachedTokenSource(cfg Config, client *http.Client, ttl time.Duration) *CachedTokenSource {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &CachedTokenSource{
		cfg:   cfg,
		http:  client,
		cache: expirable.NewLRU[string, accessToken](4, nil, ttl),
		now:   time.Now,
	}
}

// Token returns a cached token or fetches a new one.
func (c *CachedTokenSource) Token(ctx context.Context) (string, error) {
	key := c.cfg.ClientID
	if tok, ok := c.cache.Get(key); ok && c.now().Before(tok.expiresAt.Add(-expirySkew)) {
		return tok.value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		tok, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, tok)
		return tok.value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *CachedTokenSource) Invalidate() {
	c.cache.Remove(c.cfg.ClientID)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
	TokenType   string `json:"token_type"`
}

func (c *CachedTokenSource) fetch(ctx context.Context) (accessToken, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_version", c.cfg.ClientVersion)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return accessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out tokenResponse
	if err := payment.DoJSON(c.http, payment.ProviderPhonePe, req, &out); err != nil {
		return accessToken{}, err
	}
	if out.AccessToken == "" {
		return accessToken{}, fmt.Errorf("phonepe: %w: empty access token", payment.ErrProvider)
	}

	expires := c.now().Add(DefaultTokenTTL)
	if out.ExpiresAt > 0 {
		expires = time.Unix(out.ExpiresAt, 0)
	}
	return accessToken{value: out.AccessToken, expiresAt: expires}, nil
}
