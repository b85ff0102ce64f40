// Package credentials manages the bearer token used to authenticate every
// upstream request: logging in once, caching the token for its fixed
// lifetime, and coalescing concurrent renewals into a single login call.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tunerbridge/tunerbridge/internal/httpclient"
	"github.com/tunerbridge/tunerbridge/internal/upstream"
)

// TokenLifetime is how long a token is trusted before a renewal login is
// attempted, matching the upstream service's own session lifetime.
const TokenLifetime = time.Hour

// Credentials holds the current bearer token and account entitlement state.
// Safe for concurrent use; a single login is ever in flight at a time.
type Credentials struct {
	username string
	password string
	client   *httpclient.Client

	disableDonationCheck bool

	mu       sync.RWMutex
	token    string
	obtained time.Time

	sf singleflight.Group
}

type loginResponse struct {
	Token string `json:"token"`
}

type userInfo struct {
	DidDonate       bool   `json:"didDonate"`
	DonationExpire  int64  `json:"donationExpire"`
}

// New logs in with username/password and validates the account's
// entitlement. It returns an error rather than panicking on any failure —
// the caller (main) is responsible for treating that as fatal at startup.
func New(ctx context.Context, username, password string, disableDonationCheck bool, client *httpclient.Client) (*Credentials, error) {
	if client == nil {
		client = httpclient.New()
	}
	c := &Credentials{username: username, password: password, client: client, disableDonationCheck: disableDonationCheck}
	if err := c.login(ctx); err != nil {
		return nil, err
	}
	if err := c.validateUser(ctx); err != nil {
		if disableDonationCheck {
			log.Warn().Err(err).Msg("credentials: entitlement check failed, continuing (disable_donation_check set)")
		} else {
			return nil, err
		}
	}
	return c, nil
}

// Token returns the current bearer token, renewing it first if it has
// expired. Concurrent callers during a renewal all observe the same
// refreshed token; only one login request is ever in flight.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok, obtained := c.token, c.obtained
	c.mu.RUnlock()

	if tok != "" && time.Since(obtained) < TokenLifetime {
		return tok, nil
	}

	v, err, _ := c.sf.Do("login", func() (interface{}, error) {
		c.mu.RLock()
		tok, obtained := c.token, c.obtained
		c.mu.RUnlock()
		if tok != "" && time.Since(obtained) < TokenLifetime {
			return tok, nil
		}
		if err := c.login(ctx); err != nil {
			return "", err
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Credentials) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"username": c.username, "password": c.password})
	if err != nil {
		return fmt.Errorf("credentials: encoding login request: %w", err)
	}
	resp, err := c.client.Post(ctx, upstream.LoginURL, "", body)
	if err != nil {
		return fmt.Errorf("credentials: login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return fmt.Errorf("credentials: login failed: bad username or password")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("credentials: login failed: upstream status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("credentials: decoding login response: %w", err)
	}
	if lr.Token == "" {
		return fmt.Errorf("credentials: login response missing token")
	}

	c.mu.Lock()
	c.token = lr.Token
	c.obtained = time.Now()
	c.mu.Unlock()
	log.Info().Msg("credentials: logged in")
	return nil
}

func (c *Credentials) validateUser(ctx context.Context) error {
	tok, err := c.Token(ctx)
	if err != nil {
		return err
	}
	resp, err := c.client.Get(ctx, upstream.UserInfoURL, tok)
	if err != nil {
		return fmt.Errorf("credentials: user info request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("credentials: user info failed: status %d: %s", resp.StatusCode, string(b))
	}

	var u userInfo
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return fmt.Errorf("credentials: decoding user info: %w", err)
	}
	if !u.DidDonate {
		return fmt.Errorf("credentials: user didn't donate")
	}
	if u.DonationExpire != 0 && time.Unix(u.DonationExpire, 0).Before(time.Now()) {
		return fmt.Errorf("credentials: donation expired")
	}
	return nil
}
