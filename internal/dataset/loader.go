// Package dataset fetches named datasets into the provisioned cache.
//
// The pipeline treats a load as opaque: it asks for (name, subset) and
// holds the returned Handle. Nothing inside the payload is interpreted.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"dataset-prep/internal/logging"
	"dataset-prep/internal/metrics"
)

var (
	ErrInvalidName = errors.New("invalid dataset name")
	ErrNotFound    = errors.New("dataset not found")
	ErrUpstream    = errors.New("dataset server error")
)

// Handle is what a load hands back to the caller.
type Handle struct {
	Name      string
	Subset    string
	CachePath string
	Raw       []byte
	FromCache bool
}

type Loader interface {
	Load(ctx context.Context, name, subset string) (*Handle, error)
}

// Nop satisfies Loader without touching network or disk.
type Nop struct{}

func (Nop) Load(_ context.Context, name, subset string) (*Handle, error) {
	return &Handle{Name: name, Subset: subset}, nil
}

const defaultSubsetDir = "default"

// HubLoader fetches dataset info from a datasets-server compatible API and
// caches the response under CacheDir. Cached loads never hit the network.
type HubLoader struct {
	CacheDir string
	client   *resty.Client
	logger   logging.Logger
}

func NewHubLoader(cacheDir, endpoint string, timeout time.Duration, retries int, logger *log.Logger) *HubLoader {
	client := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("User-Agent", "dataset-prep/1.0").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})

	return &HubLoader{
		CacheDir: cacheDir,
		client:   client,
		logger:   logging.NewLeveled(logger),
	}
}

func (h *HubLoader) Load(ctx context.Context, name, subset string) (*Handle, error) {
	start := time.Now()
	handle, err := h.load(ctx, name, subset)
	metrics.ObserveDatasetLoad(time.Since(start))
	if err != nil {
		h.logger.Error("dataset load failed", "dataset", name, "subset", subset, "error", err)
		return nil, err
	}
	h.logger.Info("dataset loaded", "dataset", name, "subset", subset,
		"cache", handle.CachePath, "bytes", len(handle.Raw), "from_cache", handle.FromCache)
	return handle, nil
}

func (h *HubLoader) load(ctx context.Context, name, subset string) (*Handle, error) {
	cachePath, err := h.cachePath(name, subset)
	if err != nil {
		return nil, err
	}

	handle := &Handle{Name: name, Subset: subset, CachePath: cachePath}

	if data, err := os.ReadFile(cachePath); err == nil && json.Valid(data) {
		handle.Raw = data
		handle.FromCache = true
		return handle, nil
	}

	req := h.client.R().
		SetContext(ctx).
		SetQueryParam("dataset", name)
	if subset != "" {
		req.SetQueryParam("config", subset)
	}

	resp, err := req.Get("/info")
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", label(name, subset), err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, label(name, subset))
	case resp.IsError():
		return nil, fmt.Errorf("%w: %s returned %s", ErrUpstream, label(name, subset), resp.Status())
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s returned a non-JSON body", ErrUpstream, label(name, subset))
	}

	if err := writeAtomic(cachePath, body); err != nil {
		return nil, fmt.Errorf("cache %s: %w", label(name, subset), err)
	}

	handle.Raw = body
	return handle, nil
}

// cachePath maps (name, subset) to {CacheDir}/datasets/{name}/{subset}/info.json.
// Namespaced names such as "org/set" become nested directories.
func (h *HubLoader) cachePath(name, subset string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	for _, part := range []string{name, subset} {
		for _, seg := range strings.Split(part, "/") {
			if seg == ".." || seg == "." || strings.ContainsRune(seg, '\\') {
				return "", fmt.Errorf("%w: %q", ErrInvalidName, part)
			}
		}
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(subset, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	subsetDir := subset
	if subsetDir == "" {
		subsetDir = defaultSubsetDir
	}
	return filepath.Join(h.CacheDir, "datasets", filepath.FromSlash(name), filepath.FromSlash(subsetDir), "info.json"), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".info-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func label(name, subset string) string {
	if subset == "" {
		return name
	}
	return name + "/" + subset
}
