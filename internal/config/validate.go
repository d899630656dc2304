package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var validDirections = map[Direction]bool{
	Left: true, Right: true, Top: true, Bottom: true,
}

// ValidationResult splits validation failures into Fatals (block startup)
// and Warnings (logged, startup continues, sometimes after clamping a
// dangerous value to a safe default).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation errors were recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just want
// a flat error list.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config and returns fatal vs. warning errors.
// Dangerous zero/out-of-range values are clamped to safe defaults in place,
// the same pattern the teacher's tiered validator uses for intervals.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.Address != "" {
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("address %q is not host:port: %w", c.Address, err))
		}
	}

	seen := make(map[string]string)
	for _, s := range c.Screens {
		if s.Name == "" {
			r.Fatals = append(r.Fatals, fmt.Errorf("screen with empty name"))
			continue
		}
		key := strings.ToLower(s.Name)
		if existing, ok := seen[key]; ok {
			r.Fatals = append(r.Fatals, fmt.Errorf("duplicate screen name %q (conflicts with %q)", s.Name, existing))
		}
		seen[key] = s.Name
		for _, alias := range s.Aliases {
			akey := strings.ToLower(alias)
			if existing, ok := seen[akey]; ok {
				r.Fatals = append(r.Fatals, fmt.Errorf("alias %q of screen %q conflicts with %q", alias, s.Name, existing))
			}
			seen[akey] = s.Name
		}
	}

	for _, l := range c.Links {
		if !validDirections[l.Direction] {
			r.Fatals = append(r.Fatals, fmt.Errorf("link %s->%s has invalid direction %q", l.Screen, l.To, l.Direction))
		}
		if _, ok := seen[strings.ToLower(l.Screen)]; !ok {
			r.Fatals = append(r.Fatals, fmt.Errorf("link references undeclared screen %q", l.Screen))
		}
		if _, ok := seen[strings.ToLower(l.To)]; !ok {
			r.Fatals = append(r.Fatals, fmt.Errorf("link target %q is not a declared screen", l.To))
		}
	}

	if c.HeartbeatSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_seconds %d is below minimum 1, clamping", c.HeartbeatSeconds))
		c.HeartbeatSeconds = 1
	} else if c.HeartbeatSeconds > 300 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_seconds %d exceeds maximum 300, clamping", c.HeartbeatSeconds))
		c.HeartbeatSeconds = 300
	}

	if c.HeartbeatMultiple < 2 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_timeout_multiple %d is below minimum 2, clamping", c.HeartbeatMultiple))
		c.HeartbeatMultiple = 2
	}

	if c.CloseTimeoutSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("close_timeout_seconds %d is below minimum 1, clamping", c.CloseTimeoutSeconds))
		c.CloseTimeoutSeconds = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.CollectorURL != "" {
		if !strings.HasPrefix(c.CollectorURL, "http://") && !strings.HasPrefix(c.CollectorURL, "https://") {
			r.Warnings = append(r.Warnings, fmt.Errorf("collector_url %q should use http(s)", c.CollectorURL))
		}
	}

	return r
}
