package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID        = "run_id"
	KeyJob          = "job"
	KeyStage        = "stage"
	KeyState        = "state"
	KeyAttempt      = "attempt"
	KeyFailureClass = "failure_class"
	KeyWorkspace    = "workspace"
	KeyRef          = "ref"
	KeyBundle       = "bundle"
	KeyCacheKey     = "cache_key"
	KeyDurationMS   = "duration_ms"
	KeySchedule     = "schedule_name"
	KeyPath         = "path"
	KeyError        = "error"
	KeyMethod       = "method"
	KeyStatus       = "status"
	KeyRemoteAddr   = "remote_addr"
	KeyRequestID    = "request_id"
	KeySubject      = "subject"
	KeyURL          = "url"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Job(name string) slog.Attr       { return slog.String(KeyJob, name) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func FailureClass(c string) slog.Attr { return slog.String(KeyFailureClass, c) }
func Workspace(w string) slog.Attr    { return slog.String(KeyWorkspace, w) }
func Ref(r string) slog.Attr          { return slog.String(KeyRef, r) }
func Bundle(id string) slog.Attr      { return slog.String(KeyBundle, id) }
func CacheKey(k string) slog.Attr     { return slog.String(KeyCacheKey, k) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func RequestID(id string) slog.Attr   { return slog.String(KeyRequestID, id) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
