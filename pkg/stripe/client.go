package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/multierr"

	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

const defaultLookupTimeout = 10 * time.Second

// keyModes lists the secret and restricted key prefixes accepted per mode.
var keyModes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

// Client holds the Stripe API backend and the credentials of one account
// mode. It never touches the stripe.Key global so several clients can
// coexist in one process.
type Client struct {
	backend       stripe.Backend
	apiKey        string
	environment   string
	signingSecret string
	lookupTimeout time.Duration
}

type Option func(*Client)

// WithBackend overrides the Stripe API backend, mainly for tests.
func WithBackend(backend stripe.Backend) Option {
	return func(c *Client) {
		if backend != nil {
			c.backend = backend
		}
	}
}

// NewClient checks the configured credentials against the account mode and
// reports every problem at once.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		environment:   cfg.Environment(),
		signingSecret: strings.TrimSpace(cfg.Secret),
		lookupTimeout: cfg.LookupTimeout,
	}
	if err := c.check(); err != nil {
		return nil, fmt.Errorf("stripe config: %w", err)
	}
	if c.lookupTimeout <= 0 {
		c.lookupTimeout = defaultLookupTimeout
	}
	c.backend = stripe.GetBackend(stripe.APIBackend)
	for _, opt := range opts {
		opt(c)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", c.environment), "stripe client initialized")
	}
	return c, nil
}

func (c *Client) check() error {
	var errs error
	prefixes, known := keyModes[c.environment]
	if !known {
		errs = multierr.Append(errs, fmt.Errorf("unknown environment %q (want test or live)", c.environment))
	}
	switch {
	case c.apiKey == "":
		errs = multierr.Append(errs, errors.New("api key is required"))
	case known && !hasAnyPrefix(c.apiKey, prefixes):
		errs = multierr.Append(errs, fmt.Errorf("api key does not belong to %s mode", c.environment))
	}
	if c.signingSecret == "" {
		errs = multierr.Append(errs, errors.New("webhook signing secret is required"))
	}
	return errs
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
