package usdr

// resource owns one native release call and makes sure it runs once.
type resource struct {
	release  func() int
	released bool
}

func newResource(release func() int) *resource {
	return &resource{release: release}
}

// Release runs the release func the first time and returns its status; later
// calls return 0 without touching the driver.
func (r *resource) Release() int {
	if r == nil || r.released {
		return 0
	}
	r.released = true
	return r.release()
}

func (r *resource) Released() bool {
	return r == nil || r.released
}
