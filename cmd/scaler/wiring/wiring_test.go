package wiring

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HatiCode/stepscaler/cmd/scaler/config"
	"github.com/HatiCode/stepscaler/pkg/actuators"
	"github.com/HatiCode/stepscaler/pkg/adapters"
)

const policyYAML = `
steps:
  - upper: 1
    change: -1
  - lower: 2
    change: 1
  - lower: 4
    change: 2
  - lower: 8
    change: 4
  - lower: 20
    change: 10
cooldown: 10s
minCapacity: 1
maxCapacity: 20
normalize: true
`

func promServer(t *testing.T, value string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{},"values":[[%d,%q]]}]}}`,
			time.Now().Unix(), value)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, promURL string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(policyYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Service:         "worker",
		Metric:          "queue_depth",
		PolicyFile:      path,
		Source:          config.SourcePrometheus,
		PromURL:         promURL,
		PromQuery:       "queue_depth",
		Actuator:        "memory",
		InitialCapacity: 3,
		Storage:         "memory",
		Window:          5 * time.Minute,
	}
}

func TestBuild_TickAppliesStep(t *testing.T) {
	srv := promServer(t, "10")
	cfg := testConfig(t, srv.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Build(context.Background(), cfg, nil, logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer s.Close()

	d, err := s.Controller.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if d.DesiredCapacity != 7 || !d.Applied {
		t.Errorf("decision = %+v, want 7 applied", d)
	}
	if !s.Guard.InCooldown() {
		t.Error("guard should be in cooldown after an applied change")
	}
	if s.Health != nil {
		t.Error("memory store should not need a health check")
	}
}

func TestBuild_MissingPolicyFile(t *testing.T) {
	cfg := testConfig(t, "http://localhost:9090")
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := Build(context.Background(), cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("Build() expected error for missing policy file")
	}
}

func TestAdapter(t *testing.T) {
	cfg := testConfig(t, "http://prom:9090")
	ad, err := Adapter(cfg, nil)
	if err != nil {
		t.Fatalf("Adapter() error = %v", err)
	}
	if _, ok := ad.(*adapters.PrometheusAdapter); !ok {
		t.Errorf("Adapter() = %T, want *adapters.PrometheusAdapter", ad)
	}

	for _, src := range []string{config.SourceSQS, config.SourceCloudWatch, "kafka"} {
		cfg.Source = src
		if _, err := Adapter(cfg, nil); err == nil {
			t.Errorf("Adapter(%q) without session expected error", src)
		}
	}
}

func TestActuator(t *testing.T) {
	cfg := testConfig(t, "")
	act, err := Actuator(cfg, nil)
	if err != nil {
		t.Fatalf("Actuator() error = %v", err)
	}
	if _, ok := act.(*actuators.MemoryActuator); !ok {
		t.Errorf("Actuator() = %T, want *actuators.MemoryActuator", act)
	}

	cfg.Actuator = "ecs"
	if _, err := Actuator(cfg, nil); err == nil {
		t.Error("ecs actuator without session expected error")
	}
}

func TestNeedsAWS(t *testing.T) {
	tests := []struct {
		source, actuator string
		want             bool
	}{
		{config.SourcePrometheus, "memory", false},
		{config.SourcePrometheus, "ecs", true},
		{config.SourceSQS, "memory", true},
		{config.SourceCloudWatch, "memory", true},
	}
	for _, tt := range tests {
		cfg := &config.Config{Source: tt.source, Actuator: tt.actuator}
		if got := NeedsAWS(cfg); got != tt.want {
			t.Errorf("NeedsAWS(%s, %s) = %v, want %v", tt.source, tt.actuator, got, tt.want)
		}
	}
}
