package actuation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gridmind/gridmind/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func command() model.CommandSpec {
	return model.CommandSpec{
		Type:       model.ActionSetpointAdjustment,
		Parameters: map[string]any{"deltaC": 1.5},
	}
}

func TestExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/buildings/bldg-1/commands" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(model.ExecutionResult{
			Success: true, RollbackToken: "rb-1", Message: "accepted",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, discardLogger())
	res, err := c.Execute(context.Background(), "bldg-1", command())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.RollbackToken != "rb-1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestExecuteRejectionIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.ExecutionResult{
			Success: false, Message: "setpoint locked by operator",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, discardLogger())
	res, err := c.Execute(context.Background(), "bldg-1", command())
	if !errors.Is(err, ErrActuationFailed) {
		t.Fatalf("err = %v, want ErrActuationFailed", err)
	}
	if res.Success {
		t.Fatalf("rejected command reported success")
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(model.ExecutionResult{Success: true, Message: "accepted"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, discardLogger())
	res, err := c.Execute(context.Background(), "bldg-1", command())
	if err != nil {
		t.Fatalf("execute after retries: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("bms called %d times, want 3", got)
	}
}

func TestExecuteClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown building", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, discardLogger())
	if _, err := c.Execute(context.Background(), "nope", command()); err == nil {
		t.Fatalf("expected error for 404")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("client error retried: %d calls", got)
	}
}

func TestSimulatedAlwaysSucceeds(t *testing.T) {
	s := NewSimulated(discardLogger())
	res, err := s.Execute(context.Background(), "bldg-1", command())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.RollbackToken == "" {
		t.Fatalf("result = %+v", res)
	}
	other, _ := s.Execute(context.Background(), "bldg-1", command())
	if other.RollbackToken == res.RollbackToken {
		t.Fatalf("rollback tokens not unique")
	}
}
