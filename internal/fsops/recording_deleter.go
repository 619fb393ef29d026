package fsops

import "sync"

// RecordingDeleter implements Deleter for testing.
// Every call is appended to Calls. When Next is set the call is forwarded,
// otherwise nothing is deleted. Fail injects an error for a specific path.
type RecordingDeleter struct {
	Next  Deleter
	Fail  map[string]error
	mu    sync.Mutex
	Calls []string
}

func (r *RecordingDeleter) Remove(path string) error {
	r.mu.Lock()
	r.Calls = append(r.Calls, path)
	r.mu.Unlock()

	if err, ok := r.Fail[path]; ok {
		return err
	}
	if r.Next != nil {
		return r.Next.Remove(path)
	}
	return nil
}

// Recorded returns a copy of the calls seen so far.
func (r *RecordingDeleter) Recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	copy(out, r.Calls)
	return out
}
