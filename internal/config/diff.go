package config

import "reflect"

// ConfigDiff describes what changed between two configs. The log level is
// the only setting applied at runtime; every other change is reported so
// the operator knows a restart is needed for it to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the config sections that changed but only
	// take effect on the next start.
	RestartRequired []string
}

// Empty reports whether the two configs were identical.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}

	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.public_host", old.Server.PublicHost != new.Server.PublicHost)
	restart("telephony.auth_token", old.Telephony.AuthToken != new.Telephony.AuthToken)
	restart("ai", old.AI != new.AI)
	// Provider entries carry an options map, so compare structurally.
	restart("providers.llm", !reflect.DeepEqual(old.Providers.LLM, new.Providers.LLM))
	restart("providers.embeddings", !reflect.DeepEqual(old.Providers.Embeddings, new.Providers.Embeddings))
	restart("memory", old.Memory != new.Memory)
	restart("text", old.Text != new.Text)

	return d
}
