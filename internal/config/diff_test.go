package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxtutor/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(config.Default(), config.Default())
	if d.Changed() {
		t.Errorf("Diff of identical configs = %+v, want no changes", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check: func(d config.ConfigDiff) bool {
				return d.LogLevelChanged && d.NewLogLevel == config.LogDebug
			},
		},
		{
			name:   "close threshold",
			mutate: func(c *config.Config) { c.Matching.CloseThreshold = 0.8 },
			check:  func(d config.ConfigDiff) bool { return d.MatchingChanged },
		},
		{
			name:   "confirm tier",
			mutate: func(c *config.Config) { c.Matching.Confirm = 0.6 },
			check:  func(d config.ConfigDiff) bool { return d.MatchingChanged },
		},
		{
			name:   "retry limit",
			mutate: func(c *config.Config) { c.Feedback.MaxRetries = 5 },
			check:  func(d config.ConfigDiff) bool { return d.FeedbackChanged },
		},
		{
			name:   "listen timeout",
			mutate: func(c *config.Config) { c.Recognition.ListenTimeout = 30 * time.Second },
			check:  func(d config.ConfigDiff) bool { return d.ListenTimeoutChanged },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := config.Default()
			tt.mutate(next)
			d := config.Diff(config.Default(), next)
			if !tt.check(d) {
				t.Errorf("Diff = %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	next := config.Default()
	next.Server.ListenAddr = ":9999"
	next.Server.AllowedOrigins = []string{"example.com"}
	next.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}
	next.Recognition.Platform = config.PlatformNative
	next.Recognition.BridgeURL = "ws://phone.local/bridge"
	next.Recognition.Breaker.MaxFailures = 10
	next.Telemetry.TraceSampleRatio = 0.1

	d := config.Diff(config.Default(), next)
	want := []string{
		"server.listen_addr",
		"server.allowed_origins",
		"server.tls",
		"recognition.platform",
		"recognition.bridge_url",
		"recognition.breaker",
		"telemetry",
	}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.MatchingChanged || d.FeedbackChanged || d.LogLevelChanged {
		t.Errorf("hot-reload flags set unexpectedly: %+v", d)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}

func TestDiff_SameTLSIsUnchanged(t *testing.T) {
	t.Parallel()
	a, b := config.Default(), config.Default()
	a.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}
	b.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}
	if d := config.Diff(a, b); d.Changed() {
		t.Errorf("Diff = %+v, want no changes", d)
	}
}
