package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldlog/syncbox"
	"github.com/fieldlog/syncbox/internal/remote"
)

func testItem(op syncbox.Operation) *syncbox.QueueItem {
	return &syncbox.QueueItem{
		ID:             "Q1",
		TableName:      "time_entries",
		Operation:      op,
		RecordID:       "R1",
		Payload:        []byte(`{"project":"acme"}`),
		IdempotencyKey: "0191a3e2-0000-7000-8000-000000000001",
	}
}

func TestDeliver_Insert(t *testing.T) {
	var gotMethod, gotPath, gotKey, gotAuth, gotSource string
	var gotReq remote.DeliveryRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		gotSource = r.Header.Get("X-Syncbox-Source-ID")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(remote.DeliveryResponse{ServerID: "S42"})
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "secret-key", "van-3")
	item := testItem(syncbox.OpInsert)

	resp, err := client.Deliver(context.Background(), "time_entries", item)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if resp.ServerID != "S42" {
		t.Errorf("server id = %q, want S42", resp.ServerID)
	}

	if gotMethod != http.MethodPost || gotPath != "/api/v1/time_entries" {
		t.Errorf("request = %s %s, want POST /api/v1/time_entries", gotMethod, gotPath)
	}
	if gotKey != item.IdempotencyKey {
		t.Errorf("Idempotency-Key = %q, want %q", gotKey, item.IdempotencyKey)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotSource != "van-3" {
		t.Errorf("X-Syncbox-Source-ID = %q", gotSource)
	}
	if gotReq.Operation != "INSERT" || gotReq.RecordID != "R1" {
		t.Errorf("request envelope = %+v", gotReq)
	}
}

func TestDeliver_UpdateAndDeleteRouting(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "k", "")

	if _, err := client.Deliver(context.Background(), "time_entries", testItem(syncbox.OpUpdate)); err != nil {
		t.Fatalf("Deliver update: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/v1/time_entries/R1" {
		t.Errorf("update = %s %s, want PUT /api/v1/time_entries/R1", gotMethod, gotPath)
	}

	if _, err := client.Deliver(context.Background(), "time_entries", testItem(syncbox.OpDelete)); err != nil {
		t.Fatalf("Deliver delete: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/v1/time_entries/R1" {
		t.Errorf("delete = %s %s, want DELETE /api/v1/time_entries/R1", gotMethod, gotPath)
	}
}

func TestDeliver_ConflictMapsToConflictError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "version mismatch", http.StatusConflict)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "k", "")
	_, err := client.Deliver(context.Background(), "time_entries", testItem(syncbox.OpUpdate))

	var conflict *syncbox.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want *ConflictError", err)
	}
	if conflict.RecordID != "R1" {
		t.Errorf("conflict record = %q, want R1", conflict.RecordID)
	}
	if !syncbox.IsConflict(err) {
		t.Error("IsConflict = false for 409 response")
	}
}

func TestDeliver_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := remote.NewClient(server.URL, "k", "")
	_, err := client.Deliver(context.Background(), "time_entries", testItem(syncbox.OpInsert))

	var delivery *syncbox.DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("error = %v, want *DeliveryError", err)
	}
	if delivery.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", delivery.StatusCode)
	}
	if syncbox.IsConflict(err) {
		t.Error("IsConflict = true for 500 response")
	}
}

func TestDeliver_TransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening

	client := remote.NewClient(server.URL, "k", "")
	_, err := client.Deliver(context.Background(), "time_entries", testItem(syncbox.OpInsert))

	var delivery *syncbox.DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("error = %v, want *DeliveryError", err)
	}
}

func TestHandler_AdaptsToEngineContract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remote.DeliveryResponse{ServerID: "S7", Duplicate: true})
	}))
	defer server.Close()

	handler := remote.NewClient(server.URL, "k", "").Handler("time_entries")

	serverID, err := handler(context.Background(), testItem(syncbox.OpInsert))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if serverID != "S7" {
		t.Errorf("server id = %q, want S7", serverID)
	}
}
