package task

import "errors"

var (
	errCancelledByUser = errors.New("cancelled by user")
	errStuck           = errors.New("stuck task failed by monitor")
)
