package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stripewebhook "github.com/angelmondragon/creditsync/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
	"github.com/angelmondragon/creditsync/pkg/types"
)

type fakeEngine struct {
	result  stripewebhook.Result
	payload []byte
	header  string
	calls   int
}

func (f *fakeEngine) Process(_ context.Context, payload []byte, sigHeader string) stripewebhook.Result {
	f.calls++
	f.payload = payload
	f.header = sigHeader
	return f.result
}

func post(handler http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(signatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookPassesRawBytes(t *testing.T) {
	engine := &fakeEngine{result: stripewebhook.Result{
		Accepted: true,
		Status:   http.StatusOK,
		Outcome:  stripewebhook.OutcomeApplied,
		EventID:  "evt_1",
	}}
	body := []byte(`{"id": "evt_1",   "type":"invoice.paid"}`)

	rec := post(StripeWebhook(engine, 0, nil), body, "t=1,v1=abc")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(engine.payload, body) {
		t.Fatalf("body must reach the engine byte for byte")
	}
	if engine.header != "t=1,v1=abc" {
		t.Fatalf("unexpected signature header %q", engine.header)
	}

	var env struct {
		Data ackBody `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Data.Received || env.Data.Outcome != "applied" || env.Data.EventID != "evt_1" {
		t.Fatalf("unexpected ack %+v", env.Data)
	}
}

func TestStripeWebhookRelaysEngineStatus(t *testing.T) {
	cases := map[string]struct {
		result stripewebhook.Result
		status int
		code   string
	}{
		"rejected": {
			result: stripewebhook.Result{Status: http.StatusBadRequest, Outcome: stripewebhook.OutcomeRejected,
				Err: pkgerrors.New(pkgerrors.CodeSignature, "invalid stripe signature")},
			status: http.StatusBadRequest,
			code:   string(pkgerrors.CodeSignature),
		},
		"retry": {
			result: stripewebhook.Result{Status: http.StatusServiceUnavailable, Outcome: stripewebhook.OutcomeRetry,
				Err: pkgerrors.New(pkgerrors.CodeDependency, "stripe unavailable")},
			status: http.StatusServiceUnavailable,
			code:   string(pkgerrors.CodeDependency),
		},
		"unresolvable": {
			result: stripewebhook.Result{Accepted: true, Status: http.StatusOK, Outcome: stripewebhook.OutcomeUnresolvable,
				Err: pkgerrors.New(pkgerrors.CodeUnresolvable, "no user")},
			status: http.StatusOK,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			engine := &fakeEngine{result: tc.result}
			rec := post(StripeWebhook(engine, 0, nil), []byte(`{}`), "t=1,v1=abc")
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.code == "" {
				return
			}
			var env types.ErrorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Error.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, env.Error.Code)
			}
		})
	}
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	engine := &fakeEngine{}
	var logs bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "webhook-test", Output: &logs, Format: "json"})

	rec := post(StripeWebhook(engine, 16, logg), []byte(strings.Repeat("x", 64)), "t=1,v1=abc")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if engine.calls != 0 {
		t.Fatalf("engine must not see oversized payloads")
	}
	if !strings.Contains(logs.String(), `"level":"error"`) || !strings.Contains(logs.String(), "webhook payload exceeds body limit") {
		t.Fatalf("expected an error log for the oversized payload, got %s", logs.String())
	}
}

func TestStripeWebhookDefaultLimitFitsLargeEvents(t *testing.T) {
	engine := &fakeEngine{result: stripewebhook.Result{Accepted: true, Status: http.StatusOK}}
	body := []byte(`{"id":"evt_big","pad":"` + strings.Repeat("x", 200<<10) + `"}`)

	rec := post(StripeWebhook(engine, 0, nil), body, "t=1,v1=abc")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(engine.payload) != len(body) {
		t.Fatalf("engine received %d of %d bytes", len(engine.payload), len(body))
	}
}

func TestStripeWebhookWithoutEngine(t *testing.T) {
	rec := post(StripeWebhook(nil, 0, nil), []byte(`{}`), "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
