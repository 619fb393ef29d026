package fsops

// Deleter abstracts the delete side effects of a teardown.
// Tests substitute a RecordingDeleter to observe call order or to prove
// dry-run never deletes.
type Deleter interface {
	Remove(path string) error
}
