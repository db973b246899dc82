package session

import "codeberg.org/mutker/devperf/internal/errors"

const (
	ErrNoAgent       = errors.ErrorCode("session_no_agent")
	ErrConfigure     = errors.ErrorCode("session_configure_failed")
	ErrWrongState    = errors.ErrorCode("session_wrong_state")
	ErrManualStop    = errors.ErrorCode("session_manual_stop_on_auto")
	ErrLogUnreadable = errors.ErrorCode("session_traffic_log_unreadable")
	ErrBadLogLine    = errors.ErrorCode("session_traffic_log_malformed")
	ErrNoProxy       = errors.ErrorCode("session_proxy_address_missing")
)
