package evolution

import "sync"

// inflight tracks datasets with an evaluation in progress. Callers that find
// their dataset taken are turned away rather than queued.
type inflight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{active: make(map[string]struct{})}
}

// acquire claims datasetID. The returned release must be called exactly once.
func (f *inflight) acquire(datasetID string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.active[datasetID]; busy {
		return nil, false
	}
	f.active[datasetID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.active, datasetID)
			f.mu.Unlock()
		})
	}, true
}

// busy reports whether datasetID is currently claimed.
func (f *inflight) busy(datasetID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[datasetID]
	return ok
}
