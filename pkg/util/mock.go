package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// NopWriteAPI drops every point. Used when no influx host is configured.
type NopWriteAPI struct{}

func (NopWriteAPI) WriteRecord(line string)       {}
func (NopWriteAPI) WritePoint(point *write.Point) {}
func (NopWriteAPI) Flush()                        {}
func (NopWriteAPI) Close()                        {}
func (NopWriteAPI) Errors() <-chan error          { return nil }

// RecordingWriteAPI keeps every point in memory.
type RecordingWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	records []string
}

func (r *RecordingWriteAPI) WriteRecord(line string) {
	r.mu.Lock()
	r.records = append(r.records, line)
	r.mu.Unlock()
}

func (r *RecordingWriteAPI) WritePoint(point *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, point)
	r.mu.Unlock()
}

func (r *RecordingWriteAPI) Flush()               {}
func (r *RecordingWriteAPI) Close()               {}
func (r *RecordingWriteAPI) Errors() <-chan error { return nil }

func (r *RecordingWriteAPI) Points() []*write.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]*write.Point, len(r.points))
	copy(ret, r.points)
	return ret
}
