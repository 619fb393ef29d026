// Package teardown removes provisioned directory trees bottom-up.
//
// A tree is walked depth first. Inside each directory the non-directory
// entries go first, then every subdirectory is emptied and removed, then
// the directory itself. Symlinks, sockets, FIFOs and device nodes are leaf
// entries: they are removed with a single delete call and never followed.
package teardown

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"dataset-prep/internal/fsops"
	"dataset-prep/internal/logging"
	"dataset-prep/internal/metrics"
)

// ErrPathRemoval is matched by every *PathRemovalError.
var ErrPathRemoval = errors.New("path removal failed")

// PathRemovalError reports the entry whose listing or deletion aborted the
// teardown of Root.
type PathRemovalError struct {
	Root string
	Path string
	Op   string
	Err  error
}

func (e *PathRemovalError) Error() string {
	if e.Path == e.Root {
		return fmt.Sprintf("teardown %s: %s: %v", e.Root, e.Op, e.Err)
	}
	return fmt.Sprintf("teardown %s: %s %s: %v", e.Root, e.Op, e.Path, e.Err)
}

func (e *PathRemovalError) Unwrap() []error {
	return []error{ErrPathRemoval, e.Err}
}

// Entry kinds, also used as metric labels.
const (
	KindFile  = "file"
	KindDir   = "dir"
	KindLink  = "link"
	KindOther = "other"
)

// Journal actions written per root.
const (
	ActionDelete = "DELETE"
	ActionDryRun = "DRYRUN"
	ActionSkip   = "SKIP"
	ActionError  = "ERROR"
)

// Result summarizes one RemoveTree call.
type Result struct {
	Root    string
	Existed bool
	DryRun  bool
	Files   int
	Dirs    int
	Links   int
	Others  int
	Bytes   int64
}

// Entries returns the number of entries removed, root included.
func (r Result) Entries() int {
	return r.Files + r.Dirs + r.Links + r.Others
}

// Validator gates each teardown root.
type Validator interface {
	ValidateTarget(path string) error
}

// Recorder receives one event per teardown root.
type Recorder interface {
	RecordEvent(action, path, objectType string, size int64, errMsg string) error
}

// Remover tears down directory trees through a Deleter.
type Remover struct {
	logger    logging.Logger
	deleter   fsops.Deleter
	validator Validator
	recorder  Recorder
	dryRun    bool
}

// New returns a Remover deleting through the OS. dryRun disables every delete call.
func New(logger *log.Logger, dryRun bool) *Remover {
	return &Remover{
		logger:  logging.NewLeveled(logger),
		deleter: fsops.OSDeleter{},
		dryRun:  dryRun,
	}
}

func (r *Remover) SetDeleter(d fsops.Deleter) { r.deleter = d }

func (r *Remover) SetValidator(v Validator) { r.validator = v }

func (r *Remover) SetRecorder(rec Recorder) { r.recorder = rec }

// RemoveAll tears down each path independently. A failure on one path is
// reported but does not stop the others; all failures are joined.
func (r *Remover) RemoveAll(paths []string) ([]Result, error) {
	results := make([]Result, 0, len(paths))
	var errs []error
	for _, p := range paths {
		res, err := r.RemoveTree(p)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// RemoveTree deletes path and everything below it. A missing path is a
// successful no-op.
func (r *Remover) RemoveTree(path string) (Result, error) {
	res := Result{Root: path, DryRun: r.dryRun}

	if r.validator != nil {
		if err := r.validator.ValidateTarget(path); err != nil {
			r.logger.Error("teardown refused", "path", path, "error", err)
			r.record(ActionSkip, path, "directory", 0, err)
			metrics.RecordError("teardown")
			return res, fmt.Errorf("teardown %s: %w", path, err)
		}
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info("nothing to remove", "path", path)
		return res, nil
	}
	if err != nil {
		return res, r.fail(path, &PathRemovalError{Root: path, Path: path, Op: "stat", Err: err})
	}
	res.Existed = true

	start := time.Now()
	w := walk{Remover: r, root: path, res: &res}
	if info.IsDir() {
		err = w.removeContents(path)
	}
	if err == nil {
		err = w.removeEntry(path, kindOf(info.Mode()), sizeOf(info))
	}
	metrics.ObserveTeardown(time.Since(start))

	if err != nil {
		return res, r.fail(path, err)
	}

	action := ActionDelete
	if r.dryRun {
		action = ActionDryRun
	}
	r.logger.Info("teardown complete", "path", path, "dry_run", r.dryRun,
		"files", res.Files, "dirs", res.Dirs, "links", res.Links, "other", res.Others, "bytes", res.Bytes)
	r.record(action, path, objectType(info.Mode()), res.Bytes, nil)
	return res, nil
}

func (r *Remover) fail(path string, err error) error {
	r.logger.Error("teardown failed", "path", path, "error", err)
	r.record(ActionError, path, "directory", 0, err)
	metrics.RecordError("teardown")
	return err
}

func (r *Remover) record(action, path, objType string, size int64, err error) {
	if r.recorder == nil {
		return
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if rerr := r.recorder.RecordEvent(action, path, objType, size, errMsg); rerr != nil {
		r.logger.Error("journal write failed", "path", path, "error", rerr)
	}
}

// walk carries the per-root state of one teardown.
type walk struct {
	*Remover
	root string
	res  *Result
}

func (w walk) removeContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && dir != w.root {
			return nil
		}
		return &PathRemovalError{Root: w.root, Path: dir, Op: "list", Err: err}
	}

	var subdirs []string
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			subdirs = append(subdirs, p)
			continue
		}
		var size int64
		if e.Type().IsRegular() {
			if info, err := e.Info(); err == nil {
				size = info.Size()
			}
		}
		if err := w.removeEntry(p, kindOf(e.Type()), size); err != nil {
			return err
		}
	}

	for _, sub := range subdirs {
		if err := w.removeContents(sub); err != nil {
			return err
		}
		if err := w.removeEntry(sub, KindDir, 0); err != nil {
			return err
		}
	}
	return nil
}

func (w walk) removeEntry(path, kind string, size int64) error {
	if w.dryRun {
		w.logger.Info("[DRY RUN] would remove", "path", path, "kind", kind)
		w.count(kind, size)
		return nil
	}

	if err := w.deleter.Remove(path); err != nil {
		// Gone between listing and removal: the goal is already met.
		if errors.Is(err, fs.ErrNotExist) && path != w.root {
			return nil
		}
		return &PathRemovalError{Root: w.root, Path: path, Op: "remove", Err: err}
	}
	w.count(kind, size)
	metrics.RecordRemoval(kind, size)
	return nil
}

func (w walk) count(kind string, size int64) {
	switch kind {
	case KindFile:
		w.res.Files++
		w.res.Bytes += size
	case KindDir:
		w.res.Dirs++
	case KindLink:
		w.res.Links++
	default:
		w.res.Others++
	}
}

func kindOf(m fs.FileMode) string {
	switch {
	case m.IsDir():
		return KindDir
	case m&fs.ModeSymlink != 0:
		return KindLink
	case m.IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

func objectType(m fs.FileMode) string {
	switch kindOf(m) {
	case KindDir:
		return "directory"
	case KindLink:
		return "symlink"
	case KindFile:
		return "file"
	default:
		return "special"
	}
}

func sizeOf(info fs.FileInfo) int64 {
	if info.Mode().IsRegular() {
		return info.Size()
	}
	return 0
}
