package stripe

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/creditsync/pkg/config"
)

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{name: "valid test", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "test"}},
		{name: "valid live restricted", cfg: config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec_1", Env: "LIVE"}},
		{name: "missing key", cfg: config.StripeConfig{Secret: "whsec_1"}, wantErr: true},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_123"}, wantErr: true},
		{name: "live key in test", cfg: config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}, wantErr: true},
		{name: "unknown env", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(ctx, tc.cfg, nil)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.SigningSecret() != "whsec_1" {
				t.Fatalf("unexpected signing secret %q", client.SigningSecret())
			}
			if client.lookupTimeout != defaultLookupTimeout {
				t.Fatalf("expected default lookup timeout, got %s", client.lookupTimeout)
			}
		})
	}
}

func TestNilClientAccessors(t *testing.T) {
	var c *Client
	if c.Environment() != "" || c.SigningSecret() != "" {
		t.Fatalf("nil client should return empty values")
	}
}

func TestNewClientReportsEveryProblem(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{Env: "staging"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"unknown environment", "api key is required", "signing secret is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
