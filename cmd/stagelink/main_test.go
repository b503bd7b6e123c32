package main

import (
	"testing"

	"go.uber.org/fx"
)

// TestAppGraphValidity verifies that the dependency graph is resolvable.
// This test will fail if you forget an fx.Provide for a required interface.
func TestAppGraphValidity(t *testing.T) {
	err := fx.ValidateApp(
		fx.Supply(Flags{}),
		AppOptions,
	)

	if err != nil {
		t.Errorf("Dependency graph is not valid: %v", err)
	}
}

// TestNewLogger specifically verifies the logger configuration
func TestNewLogger(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		logger, err := newLogger(Flags{Verbose: verbose})
		if err != nil {
			t.Fatalf("Failed to create logger (verbose=%v): %v", verbose, err)
		}
		if logger == nil {
			t.Fatal("Logger should not be nil")
		}
		logger.Info("Test logger initialization")
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Flags
		wantErr bool
	}{
		{name: "defaults", args: nil, want: Flags{ConfigPath: "~/.config/stagelink/config.toml"}},
		{
			name: "all flags",
			args: []string{"-c", "/etc/stagelink.toml", "--host", "pro.local", "-p", "50001", "--pro-version", "7", "-v"},
			want: Flags{ConfigPath: "/etc/stagelink.toml", Host: "pro.local", Port: 50001, Version: 7, Verbose: true},
		},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: true},
		{name: "positional", args: []string{"extra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFlags(%v) = %+v, want error", tt.args, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseFlags = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// TestEndToEndStartup starts and stops the app against a host nobody
// listens on; the clients just keep retrying in the background
// We use fx.NopLogger to avoid cluttering test output
func TestEndToEndStartup(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STAGELINK_HOST", "127.0.0.1")
	t.Setenv("STAGELINK_PORT", "1")

	app := fx.New(
		fx.Supply(Flags{ConfigPath: "~/.config/stagelink/config.toml"}),
		AppOptions,
		fx.NopLogger,
	)

	if err := app.Start(testContext(t)); err != nil {
		t.Fatalf("App failed to start: %v", err)
	}

	if err := app.Stop(testContext(t)); err != nil {
		t.Fatalf("App failed to stop: %v", err)
	}
}
