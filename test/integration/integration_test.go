package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/HatiCode/stepscaler/cmd/scaler/config"
	"github.com/HatiCode/stepscaler/cmd/scaler/router"
	"github.com/HatiCode/stepscaler/cmd/scaler/wiring"
	"github.com/HatiCode/stepscaler/pkg/client"
	"github.com/HatiCode/stepscaler/pkg/httpx"
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
cooldown: 1h
minCapacity: 1
maxCapacity: 20
normalize: true
`

// TestScalerRestartKeepsCooldown runs the scaler against a Redis-backed
// store, applies a step, then builds a fresh scaler on the same store and
// checks the cooldown window survives the restart.
func TestScalerRestartKeepsCooldown(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// 1. Redis for decision history
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get redis host: %v", err)
	}
	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get redis port: %v", err)
	}

	// 2. Fake Prometheus reporting a queue depth of 10
	var depth atomic.Int64
	depth.Store(10)
	prom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{},"values":[[%d,"%d"]]}]}}`,
			time.Now().Unix(), depth.Load())
	}))
	defer prom.Close()

	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(policyYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Service:         "worker",
		Metric:          "queue_depth",
		PolicyFile:      policyPath,
		Source:          config.SourcePrometheus,
		PromURL:         prom.URL,
		PromQuery:       "sum(sqs_messages_visible)",
		Actuator:        "memory",
		InitialCapacity: 3,
		Storage:         "redis",
		RedisAddr:       fmt.Sprintf("%s:%s", host, port.Port()),
		RedisTTL:        time.Hour,
		Window:          5 * time.Minute,
		MaxSampleAge:    5 * time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// 3. First scaler applies +4
	first, err := wiring.Build(ctx, cfg, nil, logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	d, err := first.Controller.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !d.Applied || d.DesiredCapacity != 7 {
		t.Fatalf("first decision = %+v, want 7 applied", d)
	}

	srv := httptest.NewServer(httpx.Chain(router.SetupRoutes(router.Deps{
		Service: cfg.Service,
		Store:   first.Store,
		Guard:   first.Guard,
		Health:  first.Health,
	}, logger), logger))
	defer srv.Close()

	c := client.NewScalerClient(srv.URL)
	res, err := c.GetDecision(ctx, "worker")
	if err != nil {
		t.Fatalf("GetDecision() error = %v", err)
	}
	if res.Decision.DesiredCapacity != 7 || res.CooldownRemaining <= 0 {
		t.Errorf("GetDecision() = %+v", res)
	}
	doc, err := c.GetPolicy(ctx)
	if err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}
	if len(doc.Steps) != 6 {
		t.Errorf("GetPolicy() steps = %d, want 6", len(doc.Steps))
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// 4. A restarted scaler sees the change and stays in cooldown
	depth.Store(25)
	second, err := wiring.Build(ctx, cfg, nil, logger)
	if err != nil {
		t.Fatalf("Build() after restart error = %v", err)
	}
	defer second.Close()

	if !second.Guard.InCooldown() {
		t.Fatal("restarted scaler should restore the cooldown window")
	}
	d, err = second.Controller.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick() after restart error = %v", err)
	}
	if !d.Suppressed || d.Applied {
		t.Errorf("decision after restart = %+v, want suppressed", d)
	}
}
