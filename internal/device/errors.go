package device

import "codeberg.org/mutker/devperf/internal/errors"

const (
	ErrNoRunner     = errors.ErrorCode("device_no_runner")
	ErrParse        = errors.ErrorCode("device_parse_failed")
	ErrFreqReadback = errors.ErrorCode("device_frequency_unreadable")
)
