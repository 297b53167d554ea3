package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"retouch_backend/core"
	"retouch_backend/db"
	"retouch_backend/logging"
	"retouch_backend/orchestrator"
	"retouch_backend/sdruntime"
	"retouch_backend/shutdown"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testLogger records entries in memory. Unlike zaptest it tolerates
// background goroutines logging after the test returns.
func testLogger(t *testing.T) (*logging.Logger, *observer.ObservedLogs) {
	t.Helper()
	obs, logs := observer.New(zapcore.DebugLevel)
	return logging.NewFromCore(obs), logs
}

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	return &core.Config{
		BaseModel:          core.DefaultBaseModel,
		Img2ImgModel:       core.DefaultBaseModel,
		InpaintModel:       core.DefaultInpaintModel,
		DeviceOverride:     "cpu",
		Provider:           core.ProviderSynthetic,
		ImageSize:          64,
		Workers:            1,
		Host:               "127.0.0.1",
		Port:               8000,
		APIPrefix:          "/api/v1",
		CORSAllowedOrigins: []string{"*"},
		MaxUploadBytes:     1 << 20,
		HistoryDBPath:      filepath.Join(t.TempDir(), "history.db"),
		HistoryRetention:   24 * time.Hour,
		ShutdownTimeout:    5 * time.Second,
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		wantName string
		wantErr  bool
	}{
		{"synthetic", core.ProviderSynthetic, "", "synthetic", false},
		{"openai", core.ProviderOpenAI, "sk-test", "openai", false},
		{"openai without key", core.ProviderOpenAI, "", "", true},
		{"unknown", "dalle", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Provider = tt.provider
			cfg.OpenAIAPIKey = tt.key

			p, err := newProvider(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name() != tt.wantName {
				t.Errorf("newProvider().Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestRecordMapping(t *testing.T) {
	seed := int64(42)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := orchestrator.Record{
		ID:            "gen-1",
		Operation:     "inpaint",
		Prompt:        "remove the lamp",
		Strength:      0.7,
		GuidanceScale: 7.5,
		Steps:         30,
		Seed:          &seed,
		Upscale:       true,
		UpscaleScale:  2,
		Status:        orchestrator.StatusFailed,
		FailureKind:   orchestrator.FailureValidation,
		Message:       "mask is required",
		Device:        "cpu",
		Width:         64,
		Height:        32,
		Duration:      1500 * time.Millisecond,
		CreatedAt:     created,
	}

	h := historyRecord(rec)
	if h.ID != "gen-1" || h.FailureKind != string(orchestrator.FailureValidation) || h.DurationMS != 1500 {
		t.Errorf("historyRecord() = %+v", h)
	}
	if h.Seed == nil || *h.Seed != 42 {
		t.Errorf("historyRecord().Seed = %v, want 42", h.Seed)
	}
	if !h.CreatedAt.Equal(created) {
		t.Errorf("historyRecord().CreatedAt = %v, want %v", h.CreatedAt, created)
	}

	ev := eventFor(rec)
	if ev.ID != "gen-1" || ev.Status != orchestrator.StatusFailed || ev.Width != 64 || ev.DurationMS != 1500 {
		t.Errorf("eventFor() = %+v", ev)
	}
}

func TestRunStartupValidation(t *testing.T) {
	logger, _ := testLogger(t)

	cfg := testConfig(t)
	if code := runStartupValidation(logger, cfg); code != core.ExitCodeSuccess {
		t.Errorf("runStartupValidation(valid) = %d, want %d", code, core.ExitCodeSuccess)
	}

	cfg.Provider = "dalle"
	if code := runStartupValidation(logger, cfg); code != core.ExitCodeConfig {
		t.Errorf("runStartupValidation(invalid) = %d, want %d", code, core.ExitCodeConfig)
	}
}

func TestApp_RegisterOrder(t *testing.T) {
	logger, _ := testLogger(t)
	m := shutdown.NewManager(nil)

	a, err := newApp(testConfig(t), logger, m)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	a.register(m)
	t.Cleanup(func() { _ = m.Shutdown() })

	want := []string{"http", "history-writer", "history-db", "logger"}
	if got := m.RegisteredHandlers(); !reflect.DeepEqual(got, want) {
		t.Errorf("RegisteredHandlers() = %v, want %v", got, want)
	}
}

func TestApp_HistoryDisabled(t *testing.T) {
	logger, _ := testLogger(t)
	cfg := testConfig(t)
	cfg.HistoryDBPath = ""
	m := shutdown.NewManager(nil)

	a, err := newApp(cfg, logger, m)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	a.register(m)
	t.Cleanup(func() { _ = m.Shutdown() })

	if a.history != nil || a.store != nil {
		t.Fatal("history should not be opened when HistoryDBPath is empty")
	}

	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/retouch/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET history status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestApp_ProcessIsRecordedAndDrainedOnShutdown(t *testing.T) {
	logger, _ := testLogger(t)
	cfg := testConfig(t)
	m := shutdown.NewManager(nil, shutdown.WithTimeout(5*time.Second))

	a, err := newApp(cfg, logger, m)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	a.register(m)
	a.start(m.Context())

	req := orchestrator.DefaultRequest()
	req.Operation = "txt2img"
	req.Prompt = "a lighthouse at dusk"
	req.Seed = sdruntime.SeedPtr(7)

	res, err := a.service.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if snap := a.stats.Snapshot(1); snap.Total != 1 || snap.Recent[0].ID != res.ID {
		t.Errorf("stats = %+v, want the processed request", snap)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	store, err := db.Open(cfg.HistoryDBPath)
	if err != nil {
		t.Fatalf("reopen history: %v", err)
	}
	defer store.Close()

	records, err := db.NewHistory(store, nil).Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Recent() returned %d records, want 1", len(records))
	}
	got := records[0]
	if got.ID != res.ID || got.Status != orchestrator.StatusSucceeded {
		t.Errorf("record = %+v, want id %s succeeded", got, res.ID)
	}
	if got.Seed == nil || *got.Seed != 7 {
		t.Errorf("record seed = %v, want 7", got.Seed)
	}
	if got.Width != 64 || got.Height != 64 {
		t.Errorf("record size = %dx%d, want 64x64", got.Width, got.Height)
	}
}

func TestRunner_StopBeforeAttach(t *testing.T) {
	r := &runner{}
	r.stop()

	if !r.stopRequested() {
		t.Error("stopRequested() = false after stop")
	}
	if r.attach(shutdown.NewManager(nil)) {
		t.Error("attach() = true after stop, want false")
	}
}

func TestRunner_StopTriggersManager(t *testing.T) {
	r := &runner{}
	m := shutdown.NewManager(nil)
	if !r.attach(m) {
		t.Fatal("attach() = false")
	}

	r.stop()

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Error("manager context not cancelled by stop")
	}
}
