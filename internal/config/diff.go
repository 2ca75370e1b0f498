package config

// Diff describes what changed between two configs. Only fields that can be
// hot-reloaded without restarting the relay are tracked; everything else
// requires a restart and is intentionally ignored here.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged is set when the voice or instructions changed. New
	// relay sessions pick these up; existing sessions keep the old values.
	PersonaChanged bool

	HeartbeatChanged bool
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Upstream.Voice != new.Upstream.Voice || old.Upstream.Instructions != new.Upstream.Instructions {
		d.PersonaChanged = true
	}
	if old.Relay.HeartbeatInterval != new.Relay.HeartbeatInterval {
		d.HeartbeatChanged = true
	}
	return d
}

// Empty reports whether nothing reloadable changed.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.PersonaChanged && !d.HeartbeatChanged
}
