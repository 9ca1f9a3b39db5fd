package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HatiCode/stepscaler/pkg/policyfile"
	"github.com/HatiCode/stepscaler/pkg/stepscaling"
	"github.com/HatiCode/stepscaler/pkg/storage"
)

func TestNewScalerClient(t *testing.T) {
	c := NewScalerClient("http://localhost:8082")
	if c.baseURL != "http://localhost:8082" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.httpClient.Timeout)
	}
	if NewScalerClientWithTimeout("x", time.Second).httpClient.Timeout != time.Second {
		t.Error("custom timeout not applied")
	}
}

func TestScalerClient_GetDecision(t *testing.T) {
	ts := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decision/current" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("service") != "fhr" {
			t.Errorf("unexpected service: %s", r.URL.Query().Get("service"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(CooldownHeader, "4.5")
		_ = json.NewEncoder(w).Encode(storage.Decision{
			Service:         "fhr",
			Metric:          "queue_depth",
			MetricValue:     3,
			CurrentCapacity: 5,
			DesiredCapacity: 7,
			StepChange:      2,
			Applied:         true,
			Timestamp:       ts,
		})
	}))
	defer server.Close()

	res, err := NewScalerClient(server.URL).GetDecision(context.Background(), "fhr")
	if err != nil {
		t.Fatalf("GetDecision() error = %v", err)
	}
	if res.Decision.DesiredCapacity != 7 || !res.Decision.Timestamp.Equal(ts) {
		t.Errorf("decision = %+v", res.Decision)
	}
	if res.CooldownRemaining != 4500*time.Millisecond {
		t.Errorf("CooldownRemaining = %v, want 4.5s", res.CooldownRemaining)
	}
}

func TestScalerClient_GetDecision_Errors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		notFound bool
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"no decision"}`, http.StatusNotFound)
		}, true},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, false},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{"))
		}, false},
		{"bad cooldown header", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(CooldownHeader, "soon")
			_, _ = w.Write([]byte(`{"service":"fhr"}`))
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewScalerClient(server.URL).GetDecision(context.Background(), "fhr")
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("errors.Is(err, ErrNotFound) = %v, want %v", !tt.notFound, tt.notFound)
			}
		})
	}

	if _, err := NewScalerClient("http://localhost").GetDecision(context.Background(), ""); err == nil {
		t.Error("expected error for empty service")
	}
}

func TestScalerClient_GetDecision_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewScalerClient(server.URL).GetDecision(ctx, "fhr"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestScalerClient_GetPolicy(t *testing.T) {
	p, err := stepscaling.NewPolicy(stepscaling.PolicyConfig{
		Steps: []stepscaling.StepConfig{
			{Upper: stepscaling.Float(2), Change: 0},
			{Lower: stepscaling.Float(2), Change: 2},
		},
		Cooldown:    10 * time.Second,
		MinCapacity: 1,
		MaxCapacity: 20,
	})
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/policy" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(policyfile.FromPolicy(p))
	}))
	defer server.Close()

	doc, err := NewScalerClient(server.URL).GetPolicy(context.Background())
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	back, err := doc.Policy()
	if err != nil {
		t.Fatalf("doc.Policy() error = %v", err)
	}
	if back.Evaluate(5, 3) != p.Evaluate(5, 3) || back.Cooldown() != p.Cooldown() {
		t.Error("served policy differs from the original")
	}
}
