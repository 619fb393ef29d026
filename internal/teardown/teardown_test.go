package teardown

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"dataset-prep/internal/fsops"
	"dataset-prep/internal/safety"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func mkfile(t *testing.T, path string, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
}

func assertGone(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if _, err := os.Lstat(p); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("expected %s to be absent, lstat err=%v", p, err)
		}
	}
}

// buildTree creates root/sub/file.txt, root/sub2/, root/top.log and
// root/sub/deeper/leaf.bin
func buildTree(t *testing.T, root string) {
	t.Helper()
	mkfile(t, filepath.Join(root, "sub", "file.txt"), "hello")
	mkdir(t, filepath.Join(root, "sub2"))
	mkfile(t, filepath.Join(root, "top.log"), "abc")
	mkfile(t, filepath.Join(root, "sub", "deeper", "leaf.bin"), "0123456789")
}

// TestRemoveTreeNested removes a nested tree with files and empty dirs
func TestRemoveTreeNested(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	buildTree(t, root)

	res, err := New(quietLogger(), false).RemoveTree(root)
	if err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}

	assertGone(t,
		filepath.Join(root, "sub", "file.txt"),
		filepath.Join(root, "sub"),
		filepath.Join(root, "sub2"),
		root,
	)

	if !res.Existed {
		t.Error("Existed should be true")
	}
	if res.Files != 3 {
		t.Errorf("Files = %d, expected 3", res.Files)
	}
	// sub, sub/deeper, sub2, root
	if res.Dirs != 4 {
		t.Errorf("Dirs = %d, expected 4", res.Dirs)
	}
	if res.Bytes != 18 {
		t.Errorf("Bytes = %d, expected 18", res.Bytes)
	}
	if res.Entries() != 7 {
		t.Errorf("Entries() = %d, expected 7", res.Entries())
	}
}

// TestRemoveTreeMissingIsNoop verifies removal of a never-created path succeeds
func TestRemoveTreeMissingIsNoop(t *testing.T) {
	parent := t.TempDir()
	sibling := filepath.Join(parent, "keep.txt")
	mkfile(t, sibling, "keep")

	rec := &fsops.RecordingDeleter{}
	r := New(quietLogger(), false)
	r.SetDeleter(rec)

	res, err := r.RemoveTree(filepath.Join(parent, "never-created"))
	if err != nil {
		t.Fatalf("RemoveTree on missing path returned error: %v", err)
	}
	if res.Existed {
		t.Error("Existed should be false for a missing path")
	}
	if len(rec.Recorded()) != 0 {
		t.Errorf("expected no delete calls, got %v", rec.Recorded())
	}
	if _, err := os.Stat(sibling); err != nil {
		t.Errorf("filesystem changed: %v", err)
	}
}

// TestRemoveTreeChildrenBeforeParent proves no directory is deleted while it
// still has an undeleted descendant
func TestRemoveTreeChildrenBeforeParent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	buildTree(t, root)
	mkfile(t, filepath.Join(root, "a", "b", "c", "d.txt"), "x")
	mkdir(t, filepath.Join(root, "a", "empty"))

	rec := &fsops.RecordingDeleter{Next: fsops.OSDeleter{}}
	r := New(quietLogger(), false)
	r.SetDeleter(rec)

	if _, err := r.RemoveTree(root); err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}

	calls := rec.Recorded()
	if len(calls) == 0 || calls[len(calls)-1] != root {
		t.Fatalf("root must be the last delete call, got %v", calls)
	}

	for i, parent := range calls {
		for _, later := range calls[i+1:] {
			if strings.HasPrefix(later, parent+string(os.PathSeparator)) {
				t.Errorf("%s deleted before its descendant %s", parent, later)
			}
		}
	}

	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		if seen[c] {
			t.Errorf("%s deleted twice", c)
		}
		seen[c] = true
	}
	if len(calls) != 12 {
		t.Errorf("expected 12 delete calls, got %d: %v", len(calls), calls)
	}
}

// TestRemoveTreeFilesBeforeSubdirs verifies the per-directory order
func TestRemoveTreeFilesBeforeSubdirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	mkdir(t, filepath.Join(root, "aaa"))
	mkfile(t, filepath.Join(root, "zzz.txt"), "z")

	rec := &fsops.RecordingDeleter{Next: fsops.OSDeleter{}}
	r := New(quietLogger(), false)
	r.SetDeleter(rec)

	if _, err := r.RemoveTree(root); err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}

	want := []string{
		filepath.Join(root, "zzz.txt"),
		filepath.Join(root, "aaa"),
		root,
	}
	got := rec.Recorded()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("delete order = %v, expected %v", got, want)
	}
}

// TestRemoveTreeSymlinksNotFollowed verifies links are removed as leaves
func TestRemoveTreeSymlinksNotFollowed(t *testing.T) {
	tmp := t.TempDir()
	outside := filepath.Join(tmp, "outside")
	outsideFile := filepath.Join(outside, "precious.txt")
	mkfile(t, outsideFile, "must survive")

	root := filepath.Join(tmp, "root")
	mkdir(t, root)
	if err := os.Symlink(outside, filepath.Join(root, "dir_link")); err != nil {
		t.Fatalf("Failed to create dir symlink: %v", err)
	}
	if err := os.Symlink(outsideFile, filepath.Join(root, "file_link")); err != nil {
		t.Fatalf("Failed to create file symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(tmp, "nowhere"), filepath.Join(root, "dangling")); err != nil {
		t.Fatalf("Failed to create dangling symlink: %v", err)
	}

	res, err := New(quietLogger(), false).RemoveTree(root)
	if err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}

	assertGone(t, root)
	if _, err := os.Stat(outsideFile); err != nil {
		t.Errorf("symlink target was touched: %v", err)
	}
	if res.Links != 3 {
		t.Errorf("Links = %d, expected 3", res.Links)
	}
}

// TestRemoveTreeSymlinkRoot removes only the link when the root is a symlink
func TestRemoveTreeSymlinkRoot(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, "target")
	mkfile(t, filepath.Join(target, "data.txt"), "keep")

	root := filepath.Join(tmp, "cache")
	if err := os.Symlink(target, root); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	res, err := New(quietLogger(), false).RemoveTree(root)
	if err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}
	assertGone(t, root)
	if _, err := os.Stat(filepath.Join(target, "data.txt")); err != nil {
		t.Errorf("symlink root target was touched: %v", err)
	}
	if res.Links != 1 || res.Entries() != 1 {
		t.Errorf("expected a single link removal, got %+v", res)
	}
}

// TestRemoveTreeFileRoot removes a root that is a plain file
func TestRemoveTreeFileRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	mkfile(t, root, "not a dir")

	res, err := New(quietLogger(), false).RemoveTree(root)
	if err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}
	assertGone(t, root)
	if res.Files != 1 || res.Bytes != 9 {
		t.Errorf("unexpected result %+v", res)
	}
}

// TestRemoveTreeSpecialFiles treats FIFOs as leaf entries
func TestRemoveTreeSpecialFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	mkdir(t, root)
	fifo := filepath.Join(root, "pipe")
	if err := syscall.Mkfifo(fifo, 0644); err != nil {
		t.Skipf("mkfifo unsupported: %v", err)
	}

	res, err := New(quietLogger(), false).RemoveTree(root)
	if err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}
	assertGone(t, fifo, root)
	if res.Others != 1 {
		t.Errorf("Others = %d, expected 1", res.Others)
	}
}

// TestDryRunNeverDeletes proves the dry-run contract
func TestDryRunNeverDeletes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	buildTree(t, root)

	rec := &fsops.RecordingDeleter{}
	r := New(quietLogger(), true)
	r.SetDeleter(rec)

	res, err := r.RemoveTree(root)
	if err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}

	if len(rec.Recorded()) != 0 {
		t.Errorf("DRY-RUN VIOLATION: expected 0 delete calls, got %v", rec.Recorded())
	}
	if _, err := os.Stat(filepath.Join(root, "sub", "file.txt")); err != nil {
		t.Errorf("DRY-RUN VIOLATION: tree changed: %v", err)
	}
	if !res.DryRun || res.Files != 3 || res.Dirs != 4 {
		t.Errorf("dry-run result should still count entries, got %+v", res)
	}
}

// TestRemoveTreeFailureSurfaces verifies a failing delete aborts that path
func TestRemoveTreeFailureSurfaces(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	buildTree(t, root)
	blocked := filepath.Join(root, "sub", "file.txt")

	rec := &fsops.RecordingDeleter{
		Next: fsops.OSDeleter{},
		Fail: map[string]error{blocked: &fs.PathError{Op: "remove", Path: blocked, Err: fs.ErrPermission}},
	}
	r := New(quietLogger(), false)
	r.SetDeleter(rec)

	_, err := r.RemoveTree(root)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	if !errors.Is(err, ErrPathRemoval) {
		t.Errorf("error should match ErrPathRemoval: %v", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("error should wrap the permission failure: %v", err)
	}
	var rmErr *PathRemovalError
	if !errors.As(err, &rmErr) {
		t.Fatalf("expected *PathRemovalError, got %T", err)
	}
	if rmErr.Path != blocked || rmErr.Root != root || rmErr.Op != "remove" {
		t.Errorf("unexpected error fields %+v", rmErr)
	}

	if _, err := os.Stat(blocked); err != nil {
		t.Errorf("blocked file should remain: %v", err)
	}
	for _, c := range rec.Recorded() {
		if c == root || c == filepath.Join(root, "sub") {
			t.Errorf("parent %s must not be deleted after a child failed", c)
		}
	}
}

// TestRemoveTreeNotEmptySurfaces verifies a directory that cannot be
// emptied yields an explicit error rather than silent success
func TestRemoveTreeNotEmptySurfaces(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	mkfile(t, filepath.Join(root, "sub", "file.txt"), "x")
	ghost := filepath.Join(root, "sub", "file.txt")

	// Report success without deleting, as if another process recreated it
	rec := &fsops.RecordingDeleter{Fail: map[string]error{}}
	r := New(quietLogger(), false)
	r.SetDeleter(deleterFunc(func(p string) error {
		if p == ghost {
			return rec.Remove(p)
		}
		return os.Remove(p)
	}))

	_, err := r.RemoveTree(root)
	if !errors.Is(err, ErrPathRemoval) || !errors.Is(err, syscall.ENOTEMPTY) {
		t.Fatalf("expected ENOTEMPTY removal error, got %v", err)
	}
}

// TestRemoveTreeVanishedEntryTolerated verifies entries removed by someone
// else mid-walk do not fail the teardown
func TestRemoveTreeVanishedEntryTolerated(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	buildTree(t, root)
	vanished := filepath.Join(root, "top.log")

	r := New(quietLogger(), false)
	r.SetDeleter(deleterFunc(func(p string) error {
		if p == vanished {
			_ = os.Remove(p)
			return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
		}
		return os.Remove(p)
	}))

	res, err := r.RemoveTree(root)
	if err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}
	assertGone(t, root)
	if res.Files != 2 {
		t.Errorf("Files = %d, expected 2 (vanished entry not counted)", res.Files)
	}
}

// TestRemoveAllIndependentPaths verifies one failing path does not stop the rest
func TestRemoveAllIndependentPaths(t *testing.T) {
	tmp := t.TempDir()
	bad := filepath.Join(tmp, "cache")
	good := filepath.Join(tmp, "data")
	mkfile(t, filepath.Join(bad, "blob"), "x")
	mkfile(t, filepath.Join(good, "rows.csv"), "a,b")

	rec := &fsops.RecordingDeleter{
		Next: fsops.OSDeleter{},
		Fail: map[string]error{filepath.Join(bad, "blob"): fs.ErrPermission},
	}
	r := New(quietLogger(), false)
	r.SetDeleter(rec)

	results, err := r.RemoveAll([]string{bad, filepath.Join(tmp, "missing"), good})
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("expected joined permission error, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	assertGone(t, good)
	if _, err := os.Stat(bad); err != nil {
		t.Errorf("failed path should remain: %v", err)
	}
	if results[1].Existed {
		t.Error("missing path should report Existed=false")
	}
}

// TestSafetyValidatorBlocksTeardown proves validator integration works
func TestSafetyValidatorBlocksTeardown(t *testing.T) {
	tmp := t.TempDir()
	allowed := filepath.Join(tmp, "cache")
	mkdir(t, allowed)

	rec := &fsops.RecordingDeleter{}
	r := New(quietLogger(), false)
	r.SetDeleter(rec)
	r.SetValidator(safety.NewValidator([]string{allowed}, nil))

	_, err := r.RemoveTree("/etc")
	if !errors.Is(err, safety.ErrProtectedPath) {
		t.Errorf("expected ErrProtectedPath, got %v", err)
	}
	_, err = r.RemoveTree(filepath.Join(tmp, "elsewhere"))
	if !errors.Is(err, safety.ErrOutsideAllowed) {
		t.Errorf("expected ErrOutsideAllowed, got %v", err)
	}
	if len(rec.Recorded()) != 0 {
		t.Errorf("SAFETY VIOLATION: expected 0 delete calls, got %v", rec.Recorded())
	}
}

type journalEntry struct {
	action, path, objectType string
	size                     int64
	errMsg                   string
}

type memJournal struct {
	entries []journalEntry
}

func (m *memJournal) RecordEvent(action, path, objectType string, size int64, errMsg string) error {
	m.entries = append(m.entries, journalEntry{action, path, objectType, size, errMsg})
	return nil
}

// TestRemoveTreeRecordsJournal verifies one event per root
func TestRemoveTreeRecordsJournal(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "root")
	buildTree(t, root)

	j := &memJournal{}
	r := New(quietLogger(), false)
	r.SetRecorder(j)

	if _, err := r.RemoveTree(root); err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}
	if _, err := r.RemoveTree(filepath.Join(tmp, "missing")); err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}

	if len(j.entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %+v", j.entries)
	}
	e := j.entries[0]
	if e.action != ActionDelete || e.path != root || e.objectType != "directory" || e.size != 18 {
		t.Errorf("unexpected journal entry %+v", e)
	}
}

type deleterFunc func(string) error

func (f deleterFunc) Remove(p string) error { return f(p) }
