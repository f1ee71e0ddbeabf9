package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/webcam-capture/internal/config"
	"github.com/i474232898/webcam-capture/internal/pipeline"
)

const baseYAML = `
location:
  name: Carpiquet
  latitude: 49.18
  longitude: -0.45
camera:
  rtsp_url: rtsp://10.0.0.5:554/stream1
schedule:
  day_interval_minutes: 5
  night_interval_minutes: 60
weather:
  enabled: true
  icao_code: LFRK
overlay:
  enabled: true
status:
  addr: ""
`

func parse(t *testing.T, upload string) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(baseYAML + upload))
	require.NoError(t, err)
	return cfg
}

func TestBuildAppPerSink(t *testing.T) {
	tests := []struct {
		name   string
		upload string
	}{
		{"api", "upload:\n  method: api\n  api:\n    url: https://api.example.com/cam\n    key: k\n"},
		{"sftp", "upload:\n  method: sftp\n  sftp:\n    host: files.example.com\n    user: cam\n    password: pw\n    remote_path: /srv/cam\n"},
		{"s3", "upload:\n  method: s3\n  s3:\n    endpoint: https://minio.local:9000\n    bucket: cams\n    access_key: a\n    secret_key: s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := buildApp(parse(t, tt.upload), zaptest.NewLogger(t))
			require.NoError(t, err)
			assert.Equal(t, tt.name, a.uploader.Sink().Name())
			assert.NotNil(t, a.orchestrator)
			assert.False(t, a.orchestrator.Busy())
		})
	}
}

func TestBuildAppRejectsBadOverlay(t *testing.T) {
	cfg := parse(t, "upload:\n  method: api\n  api:\n    url: https://api.example.com/cam\n    key: k\n")
	cfg.Overlay.FontColor = "not-a-colour"

	_, err := buildApp(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlay")
}

func TestBuildAppWiresCleanCopy(t *testing.T) {
	cfg := parse(t, "upload:\n  method: s3\n  clean_copy: true\n  s3:\n    endpoint: https://minio.local:9000\n    bucket: cams\n    access_key: a\n    secret_key: s\n")
	assert.True(t, cfg.Upload.CleanCopy)
	assert.True(t, cfg.Metadata.Embed)

	a, err := buildApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "s3", a.uploader.Sink().Name())
}

func TestDrainTimeoutCoversEveryStage(t *testing.T) {
	cfg := config.Defaults()
	// 30s capture + 10s weather + 5s + 3x30s attempts + 1s + 2s backoff + 10s
	assert.Equal(t, 148*time.Second, drainTimeout(cfg))

	cfg.Upload.CleanCopy = true
	assert.Equal(t, 148*time.Second+93*time.Second, drainTimeout(cfg))
}

func TestRootRejectsMissingConfig(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"check", "--config", t.TempDir() + "/missing.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "read config"), err.Error())
}

type blockingCycle struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (b *blockingCycle) RunCycle(ctx context.Context, trigger time.Time) pipeline.Report {
	close(b.started)
	<-b.release
	b.ctxErr = ctx.Err()
	return pipeline.Report{ID: "c1", Trigger: trigger, Outcome: pipeline.OutcomeSuccess}
}

func TestRunToCompletionSurvivesInterrupt(t *testing.T) {
	cycle := &blockingCycle{started: make(chan struct{}), release: make(chan struct{})}
	interrupts := make(chan os.Signal, 1)

	done := make(chan pipeline.Report, 1)
	go func() { done <- runToCompletion(cycle, interrupts, zaptest.NewLogger(t)) }()

	<-cycle.started
	interrupts <- syscall.SIGINT
	select {
	case <-done:
		t.Fatal("cycle returned before it was released")
	case <-time.After(50 * time.Millisecond):
	}

	close(cycle.release)
	select {
	case r := <-done:
		assert.Equal(t, pipeline.OutcomeSuccess, r.Outcome)
		assert.NoError(t, cycle.ctxErr, "cycle context must not be cancelled by a signal")
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never completed")
	}
}
