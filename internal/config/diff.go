package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are flagged individually; everything else is listed
// in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatchingChanged is true if any classifier threshold or decision tier changed.
	MatchingChanged bool

	// FeedbackChanged is true if any message timing or the retry limit changed.
	FeedbackChanged bool

	// ListenTimeoutChanged is true if recognition.listen_timeout changed.
	ListenTimeoutChanged bool

	// RestartRequired names the changed fields that only take effect after a
	// restart, in a stable order.
	RestartRequired []string
}

// Changed reports whether anything differs at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MatchingChanged || d.FeedbackChanged ||
		d.ListenTimeoutChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.MatchingChanged = old.Matching != new.Matching
	d.FeedbackChanged = old.Feedback != new.Feedback
	d.ListenTimeoutChanged = old.Recognition.ListenTimeout != new.Recognition.ListenTimeout

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	oldSrv, newSrv := old.Server, new.Server
	restart("server.listen_addr", oldSrv.ListenAddr != newSrv.ListenAddr)
	restart("server.log_file", oldSrv.LogFile != newSrv.LogFile)
	restart("server.outcome_log", oldSrv.OutcomeLog != newSrv.OutcomeLog)
	restart("server.allowed_origins", !slices.Equal(oldSrv.AllowedOrigins, newSrv.AllowedOrigins))
	restart("server.tls", !equalTLS(oldSrv.TLS, newSrv.TLS))

	oldRec, newRec := old.Recognition, new.Recognition
	restart("recognition.platform", oldRec.Platform != newRec.Platform)
	restart("recognition.language", oldRec.Language != newRec.Language)
	restart("recognition.max_alternatives", oldRec.MaxAlternatives != newRec.MaxAlternatives)
	restart("recognition.native_timeout", oldRec.NativeTimeout != newRec.NativeTimeout)
	restart("recognition.browser_watchdog", oldRec.BrowserWatchdog != newRec.BrowserWatchdog)
	restart("recognition.stop_grace", oldRec.StopGrace != newRec.StopGrace)
	restart("recognition.bridge_url", oldRec.BridgeURL != newRec.BridgeURL)
	restart("recognition.breaker", oldRec.Breaker != newRec.Breaker)
	restart("telemetry", old.Telemetry != new.Telemetry)

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
