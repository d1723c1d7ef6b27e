package internaldefs

import (
	"github.com/Rare-Specie/authkeeper"
)

// CounterDef names one counter for every exporter.
type CounterDef struct {
	ID   authkeeper.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram for every exporter.
type HistogramDef struct {
	ID   authkeeper.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authkeeper.MetricLoginSuccess, Name: "authkeeper_login_success_total", Help: "Successful logins."},
	{ID: authkeeper.MetricLoginFailure, Name: "authkeeper_login_failure_total", Help: "Failed logins."},
	{ID: authkeeper.MetricLogout, Name: "authkeeper_logout_total", Help: "Logouts that cleared a session."},
	{ID: authkeeper.MetricStateCleared, Name: "authkeeper_state_cleared_total", Help: "State clears that removed something."},
	{ID: authkeeper.MetricSessionExpired, Name: "authkeeper_session_expired_total", Help: "Sessions ended by expiry or a rejected token."},
	{ID: authkeeper.MetricInitSuccess, Name: "authkeeper_init_success_total", Help: "Inits that confirmed the profile."},
	{ID: authkeeper.MetricInitFailure, Name: "authkeeper_init_failure_total", Help: "Inits that ended without a session."},
	{ID: authkeeper.MetricInitContended, Name: "authkeeper_init_contended_total", Help: "Inits skipped because another was running."},
	{ID: authkeeper.MetricTokenExtended, Name: "authkeeper_token_extended_total", Help: "Local token expiry extensions."},
	{ID: authkeeper.MetricValidateFailure, Name: "authkeeper_validate_failure_total", Help: "Tokens rejected by the verify endpoint."},
	{ID: authkeeper.MetricProfileRefresh, Name: "authkeeper_profile_refresh_total", Help: "Profiles fetched and adopted."},
	{ID: authkeeper.MetricProfileRefreshFailure, Name: "authkeeper_profile_refresh_failure_total", Help: "Failed profile fetches."},
	{ID: authkeeper.MetricRestoreSuccess, Name: "authkeeper_restore_success_total", Help: "Snapshot restores that ended authenticated."},
	{ID: authkeeper.MetricRestoreFailure, Name: "authkeeper_restore_failure_total", Help: "Snapshot restores that ended anonymous."},
	{ID: authkeeper.MetricNavigationAllowed, Name: "authkeeper_navigation_allowed_total", Help: "Navigations allowed."},
	{ID: authkeeper.MetricNavigationRedirected, Name: "authkeeper_navigation_redirected_total", Help: "Navigations redirected."},
	{ID: authkeeper.MetricNavigationFailOpen, Name: "authkeeper_navigation_fail_open_total", Help: "Navigations allowed because another decision was running."},
	{ID: authkeeper.MetricNavigationError, Name: "authkeeper_navigation_error_total", Help: "Navigations that failed to resolve."},
	{ID: authkeeper.MetricPasswordChanged, Name: "authkeeper_password_changed_total", Help: "Successful password changes."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authkeeper.MetricInitLatency, Name: "authkeeper_init_latency_seconds", Help: "Init latency histogram."},
}

// HistogramBounds are the upper bounds of the histogram buckets in seconds.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix are the bounds as instrument name suffixes.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
