package logger

// Standard field keys. Use these consistently so log lines from the host
// and the worker can be queried together.
const (
	KeyStrategy  = "strategy"
	KeyURL       = "url"
	KeyMode      = "mode"
	KeyCache     = "cache"
	KeyScope     = "scope"
	KeyScriptURL = "script_url"
	KeyState     = "state"
	KeyEvent     = "event"
	KeyWorker    = "worker"
	KeyStatus    = "status"
	KeyPattern   = "pattern"
	KeyCount     = "count"
	KeyError     = "error"
)

// Err formats an error as a key/value pair for logging.
func Err(err error) []any {
	if err == nil {
		return nil
	}
	return []any{KeyError, err.Error()}
}
