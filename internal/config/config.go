// Package config provides the configuration schema and loader for the
// voxtutor server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the voxtutor server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Platform selects which recognizer backends the server offers.
type Platform string

const (
	// PlatformAuto offers the native bridge when a companion is configured and
	// falls back to the browser recognizer of the connected page.
	PlatformAuto Platform = "auto"

	// PlatformNative only uses the device companion's native bridge.
	PlatformNative Platform = "native"

	// PlatformWeb only uses the browser recognizer of the connected page.
	PlatformWeb Platform = "web"
)

// IsValid reports whether p is a recognised platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformAuto, PlatformNative, PlatformWeb:
		return true
	}
	return false
}

// Config is the root configuration structure for voxtutor.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Matching    MatchingConfig    `yaml:"matching"`
	Feedback    FeedbackConfig    `yaml:"feedback"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, additionally writes logs to a size-rotated file.
	LogFile string `yaml:"log_file"`

	// OutcomeLog, when set, appends every decided answer as a JSON line.
	OutcomeLog string `yaml:"outcome_log"`

	// AllowedOrigins lists the origin patterns accepted on the relay
	// WebSocket. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RecognitionConfig configures the recognition controller and its backends.
type RecognitionConfig struct {
	Platform Platform `yaml:"platform"`

	// Language is the BCP-47 recognition language.
	Language string `yaml:"language"`

	// MaxAlternatives caps the alternatives requested per capture.
	MaxAlternatives int `yaml:"max_alternatives"`

	// NativeTimeout force-settles a native capture that never reports an end.
	NativeTimeout time.Duration `yaml:"native_timeout"`

	// BrowserWatchdog, when positive, stops a browser capture that runs too
	// long. Zero leaves the browser's own end-of-speech detection in charge.
	BrowserWatchdog time.Duration `yaml:"browser_watchdog"`

	// StopGrace is how long the browser watchdog waits for the end event
	// after asking the recognizer to stop.
	StopGrace time.Duration `yaml:"stop_grace"`

	// ListenTimeout bounds one listening attempt end to end.
	ListenTimeout time.Duration `yaml:"listen_timeout"`

	// BridgeURL is the WebSocket URL of the device companion. When empty, a
	// companion may connect to the server's relay endpoint instead.
	BridgeURL string `yaml:"bridge_url"`

	// Breaker tunes the circuit breaker guarding dials to BridgeURL.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// MatchingConfig holds the classifier thresholds and decision tiers.
type MatchingConfig struct {
	// CloseThreshold is the minimum token similarity for a close match.
	CloseThreshold float64 `yaml:"close_threshold"`

	// PartialConfidence is the confidence reported for partial matches.
	PartialConfidence float64 `yaml:"partial_confidence"`

	// AutoAccept is the confidence at or above which an answer is accepted
	// without asking.
	AutoAccept float64 `yaml:"auto_accept"`

	// Confirm is the confidence at or above which the learner is asked to
	// confirm the heard word.
	Confirm float64 `yaml:"confirm"`
}

// FeedbackConfig holds message timings and the retry limit.
type FeedbackConfig struct {
	SuccessClear  time.Duration `yaml:"success_clear"`
	RejectClear   time.Duration `yaml:"reject_clear"`
	ErrorClear    time.Duration `yaml:"error_clear"`
	NoSpeechClear time.Duration `yaml:"no_speech_clear"`
	MaxRetries    int           `yaml:"max_retries"`
}

// TelemetryConfig controls the OpenTelemetry SDK set up by the serve command.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// Metrics exposes the Prometheus scrape endpoint on GET /metrics.
	Metrics bool `yaml:"metrics"`

	// TraceSampleRatio is the fraction of root traces recorded, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Recognition: RecognitionConfig{
			Platform:        PlatformAuto,
			Language:        "en-US",
			MaxAlternatives: 5,
			NativeTimeout:   15 * time.Second,
			StopGrace:       2 * time.Second,
			ListenTimeout:   20 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures:  3,
				ResetTimeout: 30 * time.Second,
			},
		},
		Matching: MatchingConfig{
			CloseThreshold:    0.85,
			PartialConfidence: 0.9,
			AutoAccept:        0.95,
			Confirm:           0.75,
		},
		Feedback: FeedbackConfig{
			SuccessClear:  1500 * time.Millisecond,
			RejectClear:   2 * time.Second,
			ErrorClear:    3 * time.Second,
			NoSpeechClear: 2 * time.Second,
			MaxRetries:    3,
		},
		Telemetry: TelemetryConfig{
			ServiceName:      "voxtutor",
			Metrics:          true,
			TraceSampleRatio: 1,
		},
	}
}
