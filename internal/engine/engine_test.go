package engine

import (
	"context"
	"testing"
	"time"

	"github.com/genricoloni/stagelink/internal/clock"
	"github.com/genricoloni/stagelink/internal/config"
	"github.com/genricoloni/stagelink/internal/domain/mocks"
	"github.com/genricoloni/stagelink/internal/remote"
	"github.com/genricoloni/stagelink/internal/stage"
	"github.com/genricoloni/stagelink/internal/transport/transporttest"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	engine      *Engine
	logs        *observer.ObservedLogs
	stageSock   *transporttest.Socket
	remoteSock  *transporttest.Socket
	stageClient *stage.Client
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	f := &fixture{
		stageSock:  transporttest.NewSocket(),
		remoteSock: transporttest.NewSocket(),
	}
	if cfg.Stage.Enabled {
		dialer.EXPECT().Dial(gomock.Any(), "ws://localhost:60157/stagedisplay").Return(f.stageSock, nil)
	}
	if cfg.Remote.Enabled {
		dialer.EXPECT().Dial(gomock.Any(), "ws://localhost:60157/remote").Return(f.remoteSock, nil)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	f.logs = logs

	fake := clock.NewFake(epoch)
	f.stageClient = stage.NewClient(logger, stage.Options{Host: cfg.Host, Port: cfg.StagePort()}, dialer, fake)
	rc := remote.NewClient(logger, remote.Options{Host: cfg.Host, Port: cfg.RemotePort()}, dialer, fake)
	f.engine = NewEngine(logger, cfg, f.stageClient, rc)
	return f
}

func waitForLog(t *testing.T, logs *observer.ObservedLogs, message string) observer.LoggedEntry {
	t.Helper()
	deadline := time.Now().Add(transporttest.DefaultWait)
	for time.Now().Before(deadline) {
		if entries := logs.FilterMessage(message).All(); len(entries) > 0 {
			return entries[len(entries)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %q log entry", message)
	return observer.LoggedEntry{}
}

func TestEngineStartStop(t *testing.T) {
	f := newFixture(t, config.Default())

	if err := f.engine.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.stageSock.NextSent(t)
	f.remoteSock.NextSent(t)

	// Starting twice is a no-op
	if err := f.engine.Start(testContext(t)); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if err := f.engine.Stop(testContext(t)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !f.stageSock.Terminated() || !f.remoteSock.Terminated() {
		t.Error("Stop left a socket open")
	}
	waitForLog(t, f.logs, "Engine loop stopped")
}

func TestEngineDebouncesSlides(t *testing.T) {
	f := newFixture(t, config.Default())
	if err := f.engine.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.engine.Stop(context.Background()) })
	f.stageSock.NextSent(t)

	for _, text := range []string{"Verse 1", "Verse 2", "Chorus"} {
		f.stageSock.Deliver(t, map[string]any{
			"acn": "fv",
			"ary": []map[string]string{{"acn": "cs", "uid": text, "txt": text}},
		})
	}

	entry := waitForLog(t, f.logs, "Slide changed")
	if got := entry.ContextMap()["current"]; got != "Chorus" {
		t.Errorf("logged current = %v, want Chorus", got)
	}
	time.Sleep(2 * debounceDuration)
	if n := f.logs.FilterMessage("Slide changed").Len(); n != 1 {
		t.Errorf("logged %d slide changes, want 1", n)
	}
}

func TestEngineLogsStageMessageAndConnection(t *testing.T) {
	f := newFixture(t, config.Default())
	if err := f.engine.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.engine.Stop(context.Background()) })
	f.stageSock.NextSent(t)

	f.stageSock.Deliver(t, map[string]any{"acn": "ath", "ath": true})
	f.stageSock.Deliver(t, map[string]any{"acn": "msg", "txt": "Five minutes"})

	if got := waitForLog(t, f.logs, "Stage message").ContextMap()["text"]; got != "Five minutes" {
		t.Errorf("logged text = %v", got)
	}
	deadline := time.Now().Add(transporttest.DefaultWait)
	for time.Now().Before(deadline) {
		for _, e := range f.logs.FilterMessage("Stage display connection").All() {
			if e.ContextMap()["state"] == "active" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("active stage connection was not logged")
}

func TestEngineSkipsDisabledRole(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Enabled = false
	f := newFixture(t, cfg)

	if err := f.engine.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.stageSock.NextSent(t)
	f.remoteSock.ExpectNoneSent(t, 50*time.Millisecond)

	if err := f.engine.Stop(testContext(t)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
