package internaldefs

import (
	"github.com/latchauth/latch"
)

// CounterDef binds an engine counter to its stable exported name.
type CounterDef struct {
	ID   latch.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its stable exported name.
type HistogramDef struct {
	ID   latch.MetricID
	Name string
	Help string
}

// CounterDefs is the full exported counter set. Exporters iterate this
// slice so every backend publishes identical names.
var CounterDefs = []CounterDef{
	{ID: latch.MetricLoginSuccess, Name: "latch_login_success_total", Help: "Successful password logins."},
	{ID: latch.MetricLoginFailure, Name: "latch_login_failure_total", Help: "Rejected password logins."},
	{ID: latch.MetricSignupSuccess, Name: "latch_signup_success_total", Help: "Created accounts."},
	{ID: latch.MetricSignupDuplicate, Name: "latch_signup_duplicate_total", Help: "Signups rejected on email collision."},
	{ID: latch.MetricOAuthLogin, Name: "latch_oauth_login_total", Help: "OAuth callback logins."},
	{ID: latch.MetricOAuthLinked, Name: "latch_oauth_linked_total", Help: "OAuth identities linked to existing accounts."},
	{ID: latch.MetricRefreshSuccess, Name: "latch_refresh_success_total", Help: "Completed refresh rotations."},
	{ID: latch.MetricRefreshFailure, Name: "latch_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: latch.MetricRefreshReuseDetected, Name: "latch_refresh_reuse_detected_total", Help: "Refresh attempts presenting an already-rotated token."},
	{ID: latch.MetricCodeIssued, Name: "latch_code_issued_total", Help: "Generated one-time codes."},
	{ID: latch.MetricCodeVerified, Name: "latch_code_verified_total", Help: "Successful code verifications."},
	{ID: latch.MetricCodeFailure, Name: "latch_code_failure_total", Help: "Failed code verifications."},
	{ID: latch.MetricCodeAttemptsExceeded, Name: "latch_code_attempts_exceeded_total", Help: "Code challenges killed at the attempt ceiling."},
	{ID: latch.MetricCodeResendRateLimited, Name: "latch_code_resend_rate_limited_total", Help: "Throttled code generation requests."},
	{ID: latch.MetricResetIssued, Name: "latch_reset_issued_total", Help: "Minted reset credentials."},
	{ID: latch.MetricResetConfirmSuccess, Name: "latch_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: latch.MetricResetConfirmFailure, Name: "latch_reset_confirm_failure_total", Help: "Rejected password resets."},
	{ID: latch.MetricNotifyDelivered, Name: "latch_notify_delivered_total", Help: "Codes handed to the notifier successfully."},
	{ID: latch.MetricNotifyFailed, Name: "latch_notify_failed_total", Help: "Code deliveries that failed after retries."},
}

// HistogramDefs is the full exported histogram set.
var HistogramDefs = []HistogramDef{
	{ID: latch.MetricVerifyLatency, Name: "latch_verify_latency_seconds", Help: "Code verification latency histogram."},
}

// HistogramBoundSuffix names the bucket upper bounds in metric-name-safe
// form, matching the engine's fixed bucket layout.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// engine layout.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// histogram consumers expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
