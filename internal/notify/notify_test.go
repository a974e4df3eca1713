package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexmaze/aimemos/internal/config"
	"github.com/alexmaze/aimemos/internal/queue"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

func TestSign_MatchesHMACSHA256Hex(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"index.completed"}`)
	secret := "s3cr3t"

	got := sign(body, secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Fatalf("sign() = %q, want %q", got, want)
	}
}

func TestSign_DifferentSecretsProduceDifferentSignatures(t *testing.T) {
	t.Parallel()

	body := []byte("payload")
	if sign(body, "a") == sign(body, "b") {
		t.Fatal("expected different secrets to produce different signatures")
	}
}

func TestDispatcher_DisabledWithoutURLNeverTouchesQueue(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, config.WebhookConfig{})
	// nil *queue.Client would panic if Notify tried to enqueue; reaching
	// here without a panic proves the disabled short-circuit fired.
	d.Notify(Event{Event: "index.completed", UserID: uuid.New(), DocID: uuid.New(), TaskUUID: uuid.New()})
}

func TestHandler_ProcessTask_DeliversSignedRequest(t *testing.T) {
	t.Parallel()

	const secret = "webhook-secret"
	var gotBody []byte
	var gotSig, gotEvent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHandler(config.WebhookConfig{URL: srv.URL, Secret: secret})

	payload := queue.WebhookDeliverPayload{
		UserID:  uuid.New().String(),
		DocID:   uuid.New().String(),
		Event:   "index.completed",
		Payload: `{"status":"completed"}`,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	task := asynq.NewTask(queue.TypeWebhookDeliver, data)

	if err := h.ProcessTask(t.Context(), task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	if string(gotBody) != payload.Payload {
		t.Fatalf("delivered body = %q, want %q", gotBody, payload.Payload)
	}
	if gotEvent != payload.Event {
		t.Fatalf("X-Webhook-Event = %q, want %q", gotEvent, payload.Event)
	}
	if gotSig != sign(gotBody, secret) {
		t.Fatalf("X-Webhook-Signature = %q did not verify", gotSig)
	}
}

func TestHandler_ProcessTask_NonSuccessStatusIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHandler(config.WebhookConfig{URL: srv.URL, Secret: "x"})
	payload := queue.WebhookDeliverPayload{Event: "index.failed", Payload: "{}"}
	data, _ := json.Marshal(payload)
	task := asynq.NewTask(queue.TypeWebhookDeliver, data)

	if err := h.ProcessTask(t.Context(), task); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
