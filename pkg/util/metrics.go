package util

import "time"

// TimeOperation runs op and returns how long it took along with its error.
func TimeOperation(op func() error) (time.Duration, error) {
	start := time.Now()
	err := op()
	return time.Since(start), err
}
