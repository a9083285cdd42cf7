package config

// ConfigDiff describes what changed between two configs. The log level is the
// only change applied live; endpoint changes are reported so the operator
// knows a restart is needed (gates, pools, and breakers are built once at
// startup).
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EndpointsChanged bool
	EndpointChanges  []EndpointDiff
}

// EndpointDiff describes what changed for a single endpoint between two configs.
type EndpointDiff struct {
	ID              string
	Added           bool
	Removed         bool
	LimitsChanged   bool // max_concurrent, max_sessions, or keep_alive_expiry
	TimeoutsChanged bool
	BreakerChanged  bool
	BindingChanged  bool // provider, model, base_url, or api_key_env
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldEPs := make(map[string]*Endpoint, len(old.Endpoints))
	for i := range old.Endpoints {
		oldEPs[old.Endpoints[i].ID] = &old.Endpoints[i]
	}
	newEPs := make(map[string]*Endpoint, len(new.Endpoints))
	for i := range new.Endpoints {
		newEPs[new.Endpoints[i].ID] = &new.Endpoints[i]
	}

	// Detect modified and removed endpoints.
	for id, oldEP := range oldEPs {
		newEP, exists := newEPs[id]
		if !exists {
			d.EndpointChanges = append(d.EndpointChanges, EndpointDiff{
				ID:      id,
				Removed: true,
			})
			d.EndpointsChanged = true
			continue
		}
		ed := diffEndpoint(id, oldEP, newEP)
		if ed.LimitsChanged || ed.TimeoutsChanged || ed.BreakerChanged || ed.BindingChanged {
			d.EndpointChanges = append(d.EndpointChanges, ed)
			d.EndpointsChanged = true
		}
	}

	// Detect added endpoints.
	for id := range newEPs {
		if _, exists := oldEPs[id]; !exists {
			d.EndpointChanges = append(d.EndpointChanges, EndpointDiff{
				ID:    id,
				Added: true,
			})
			d.EndpointsChanged = true
		}
	}

	return d
}

// diffEndpoint compares two endpoint configs with the same id.
func diffEndpoint(id string, old, new *Endpoint) EndpointDiff {
	ed := EndpointDiff{ID: id}

	if old.MaxConcurrent != new.MaxConcurrent ||
		old.MaxSessions != new.MaxSessions ||
		old.KeepAliveExpiry != new.KeepAliveExpiry {
		ed.LimitsChanged = true
	}

	if old.Timeouts != new.Timeouts {
		ed.TimeoutsChanged = true
	}

	if old.Breaker != new.Breaker {
		ed.BreakerChanged = true
	}

	if old.Provider != new.Provider ||
		old.Model != new.Model ||
		old.BaseURL != new.BaseURL ||
		old.APIKeyEnv != new.APIKeyEnv {
		ed.BindingChanged = true
	}

	return ed
}
