package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInsecureVerifier(t *testing.T) {
	v := InsecureVerifier{}
	id, err := v.Verify(context.Background(), "alice|alice@example.com|Alice")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "alice" || id.Email != "alice@example.com" || id.Name != "Alice" {
		t.Fatalf("identity wrong: %+v", id)
	}

	id, err = v.Verify(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "bob" || id.Email != "" {
		t.Fatalf("bare id wrong: %+v", id)
	}

	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "|x@y|X"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty id, got %v", err)
	}
}

func TestHTTPVerifier(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch req["token"] {
		case "good":
			_ = json.NewEncoder(w).Encode(Identity{UserID: "u1", Email: "u1@example.com", Name: "User One"})
		case "anonymous":
			_ = json.NewEncoder(w).Encode(Identity{Email: "ghost@example.com"})
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}))
	defer ts.Close()

	v := NewHTTPVerifier(ts.URL)
	id, err := v.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u1" || id.Email != "u1@example.com" {
		t.Fatalf("identity wrong: %+v", id)
	}

	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	// A provider response without a user id is as useless as a rejection.
	if _, err := v.Verify(context.Background(), "anonymous"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty user id, got %v", err)
	}
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}
