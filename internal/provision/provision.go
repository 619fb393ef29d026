// Package provision creates the working directories a run needs.
package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"dataset-prep/internal/logging"
	"dataset-prep/internal/metrics"
)

// ErrPathCreation is matched by every *PathCreationError.
var ErrPathCreation = errors.New("path creation failed")

// PathCreationError reports a directory that could not be provisioned.
type PathCreationError struct {
	Path string
	Err  error
}

func (e *PathCreationError) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Path, e.Err)
}

func (e *PathCreationError) Unwrap() []error {
	return []error{ErrPathCreation, e.Err}
}

// Outcome values passed to Recorder.
const (
	OutcomeCreate = "CREATE"
	OutcomeExists = "EXISTS"
	OutcomeError  = "ERROR"
)

// Validator gates each path before creation.
type Validator interface {
	ValidateTarget(path string) error
}

// Recorder receives one event per provisioned path.
type Recorder interface {
	RecordEvent(action, path, objectType string, size int64, errMsg string) error
}

// Provisioner creates working directories behind an optional safety gate.
type Provisioner struct {
	logger    logging.Logger
	mode      os.FileMode
	validator Validator
	recorder  Recorder
}

// New returns a Provisioner creating directories with mode (0755 when zero).
func New(logger *log.Logger, mode os.FileMode) *Provisioner {
	if mode == 0 {
		mode = 0o755
	}
	return &Provisioner{
		logger: logging.NewLeveled(logger),
		mode:   mode,
	}
}

func (p *Provisioner) SetValidator(v Validator) { p.validator = v }

func (p *Provisioner) SetRecorder(r Recorder) { p.recorder = r }

// Ensure creates each path, with missing parents, unless it already exists
// as a directory. Every path is attempted; failures are joined.
func (p *Provisioner) Ensure(paths []string) error {
	_, err := p.EnsureReady(paths)
	return err
}

// EnsureReady is Ensure that also returns, in input order, the paths that
// now exist as directories (created or already present). Paths that failed
// are left out.
func (p *Provisioner) EnsureReady(paths []string) ([]string, error) {
	ready := make([]string, 0, len(paths))
	var errs []error
	for _, path := range paths {
		outcome, err := p.ensureOne(path)
		p.record(outcome, path, err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ready = append(ready, path)
	}
	return ready, errors.Join(errs...)
}

func (p *Provisioner) ensureOne(path string) (string, error) {
	if p.validator != nil {
		if err := p.validator.ValidateTarget(path); err != nil {
			return OutcomeError, &PathCreationError{Path: path, Err: err}
		}
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return OutcomeExists, nil
	case err == nil:
		return OutcomeError, &PathCreationError{Path: path, Err: fmt.Errorf("exists as %s, not a directory", describe(info.Mode()))}
	case !errors.Is(err, fs.ErrNotExist):
		return OutcomeError, &PathCreationError{Path: path, Err: err}
	}

	if err := os.MkdirAll(path, p.mode); err != nil {
		return OutcomeError, &PathCreationError{Path: path, Err: err}
	}
	return OutcomeCreate, nil
}

func (p *Provisioner) record(outcome, path string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		p.logger.Error("provision failed", "path", path, "error", err)
	} else {
		p.logger.Info("provisioned", "path", path, "outcome", outcome)
	}
	metrics.RecordProvision(outcome)
	if p.recorder != nil {
		if rerr := p.recorder.RecordEvent(outcome, path, "directory", 0, errMsg); rerr != nil {
			p.logger.Error("journal write failed", "path", path, "error", rerr)
		}
	}
}

func describe(m fs.FileMode) string {
	switch {
	case m&fs.ModeSymlink != 0:
		return "symlink"
	case m.IsRegular():
		return "regular file"
	default:
		return m.Type().String()
	}
}
