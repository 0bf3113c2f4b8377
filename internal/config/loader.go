package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Recognition
	rc := cfg.Recognition
	if !rc.Platform.IsValid() {
		errs = append(errs, fmt.Errorf("recognition.platform %q is invalid; valid values: auto, native, web", rc.Platform))
	}
	if rc.Language == "" {
		errs = append(errs, errors.New("recognition.language is required"))
	}
	if rc.MaxAlternatives < 1 {
		errs = append(errs, fmt.Errorf("recognition.max_alternatives %d must be at least 1", rc.MaxAlternatives))
	}
	errs = appendPositive(errs, "recognition.native_timeout", rc.NativeTimeout)
	errs = appendPositive(errs, "recognition.listen_timeout", rc.ListenTimeout)
	errs = appendNonNegative(errs, "recognition.browser_watchdog", rc.BrowserWatchdog)
	errs = appendNonNegative(errs, "recognition.stop_grace", rc.StopGrace)
	if rc.BridgeURL != "" {
		u, err := url.Parse(rc.BridgeURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("recognition.bridge_url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("recognition.bridge_url %q must use ws or wss", rc.BridgeURL))
		}
	}
	if rc.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("recognition.breaker.max_failures %d must not be negative", rc.Breaker.MaxFailures))
	}
	errs = appendNonNegative(errs, "recognition.breaker.reset_timeout", rc.Breaker.ResetTimeout)
	if rc.NativeTimeout > 0 && rc.ListenTimeout > 0 && rc.NativeTimeout >= rc.ListenTimeout {
		errs = append(errs, fmt.Errorf("recognition.native_timeout %v must be shorter than recognition.listen_timeout %v", rc.NativeTimeout, rc.ListenTimeout))
	}
	if rc.BrowserWatchdog > 0 && rc.ListenTimeout > 0 && rc.BrowserWatchdog+rc.StopGrace >= rc.ListenTimeout {
		errs = append(errs, fmt.Errorf("recognition.browser_watchdog %v plus stop_grace %v must be shorter than recognition.listen_timeout %v",
			rc.BrowserWatchdog, rc.StopGrace, rc.ListenTimeout))
	}

	// Matching
	m := cfg.Matching
	errs = appendUnit(errs, "matching.close_threshold", m.CloseThreshold)
	errs = appendUnit(errs, "matching.partial_confidence", m.PartialConfidence)
	errs = appendUnit(errs, "matching.auto_accept", m.AutoAccept)
	errs = appendUnit(errs, "matching.confirm", m.Confirm)
	if m.Confirm > m.AutoAccept {
		errs = append(errs, fmt.Errorf("matching.confirm %.2f must not exceed matching.auto_accept %.2f", m.Confirm, m.AutoAccept))
	}
	if m.PartialConfidence >= m.AutoAccept {
		slog.Warn("matching.partial_confidence reaches auto_accept; partial matches will be accepted without confirmation",
			"partial_confidence", m.PartialConfidence, "auto_accept", m.AutoAccept)
	}

	// Feedback
	f := cfg.Feedback
	errs = appendNonNegative(errs, "feedback.success_clear", f.SuccessClear)
	errs = appendNonNegative(errs, "feedback.reject_clear", f.RejectClear)
	errs = appendNonNegative(errs, "feedback.error_clear", f.ErrorClear)
	errs = appendNonNegative(errs, "feedback.no_speech_clear", f.NoSpeechClear)
	if f.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("feedback.max_retries %d must not be negative", f.MaxRetries))
	}

	// Telemetry
	tel := cfg.Telemetry
	if tel.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name is required"))
	}
	if tel.TraceSampleRatio < 0 || tel.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", tel.TraceSampleRatio))
	}

	return errors.Join(errs...)
}

func appendPositive(errs []error, field string, d time.Duration) []error {
	if d <= 0 {
		return append(errs, fmt.Errorf("%s must be positive", field))
	}
	return errs
}

func appendNonNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s must not be negative", field))
	}
	return errs
}

func appendUnit(errs []error, field string, v float64) []error {
	if v <= 0 || v > 1 {
		return append(errs, fmt.Errorf("%s %.2f is out of range (0, 1]", field, v))
	}
	return errs
}
