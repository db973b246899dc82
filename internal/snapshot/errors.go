package snapshot

import "codeberg.org/mutker/devperf/internal/errors"

// Gone builds the error a source returns when the given pid has
// vanished from the device. The pid travels as error data so the
// sampler can prune exactly that process.
func Gone(pid int) errors.Error {
	return errors.New().WithData(errors.ErrProcessGone, pid)
}

// GonePID extracts the vanished pid from a source error.
func GonePID(err error) (int, bool) {
	if !errors.IsCode(err, errors.ErrProcessGone) {
		return 0, false
	}

	var coded errors.Error
	for e := err; e != nil; e = errors.Unwrap(e) {
		if errors.As(e, &coded) && coded.Code() == errors.ErrProcessGone {
			if pid, ok := coded.GetData().(int); ok {
				return pid, true
			}
		}
	}

	return 0, true
}
