package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Doer is the subset of *http.Client used here, shared with the api
// package's injection pattern.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Manifest is the published release description fetched from the update
// URL.
type Manifest struct {
	Version string           `json:"version"`
	Assets  map[string]Asset `json:"assets"`
}

// Asset is one downloadable binary, keyed by "<os>-<arch>".
type Asset struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// Release is an available update for this platform.
type Release struct {
	Version string
	Asset   Asset
}

// platformKey identifies this build in the manifest's asset map.
func platformKey() string {
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

// Check fetches the manifest and reports whether a newer release exists for
// this platform.
func Check(ctx context.Context, doer Doer, manifestURL, currentVersion string) (*Release, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build update check request: %w", err)
	}

	res, err := doer.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch update manifest from %q: %w\nCheck connectivity or the configured update_url", manifestURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("update manifest request to %q failed with HTTP %d", manifestURL, res.StatusCode)
	}

	var manifest Manifest
	if err := json.NewDecoder(res.Body).Decode(&manifest); err != nil {
		return nil, false, fmt.Errorf("failed to decode update manifest: %w", err)
	}

	if CompareVersions(manifest.Version, currentVersion) <= 0 {
		return nil, false, nil
	}

	asset, ok := manifest.Assets[platformKey()]
	if !ok {
		return nil, false, fmt.Errorf("release %s has no binary for %s\nBuild from source or wait for the next release", manifest.Version, platformKey())
	}

	return &Release{Version: manifest.Version, Asset: asset}, true, nil
}

// Apply downloads the release, verifies its checksum, and atomically
// replaces the current executable.
func Apply(ctx context.Context, doer Doer, release *Release) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate the current executable: %w", err)
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return fmt.Errorf("failed to resolve the current executable path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, release.Asset.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	res, err := doer.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download release %s from %q: %w", release.Version, release.Asset.URL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("release download from %q failed with HTTP %d", release.Asset.URL, res.StatusCode)
	}

	// Download next to the executable so the final rename stays on one
	// filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(executable), ".minnow-update-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file next to %q: %w\nCheck directory permissions", executable, err)
	}
	defer os.Remove(tmp.Name())

	digest := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, digest), res.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download release %s: %w", release.Version, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finish writing the downloaded release: %w", err)
	}

	sum := hex.EncodeToString(digest.Sum(nil))
	if !strings.EqualFold(sum, release.Asset.SHA256) {
		return fmt.Errorf("checksum mismatch for release %s: got %s, want %s\nThe download may be corrupted or tampered with; not installing", release.Version, sum, release.Asset.SHA256)
	}

	if err := os.Chmod(tmp.Name(), 0755); err != nil {
		return fmt.Errorf("failed to mark the downloaded release executable: %w", err)
	}

	if err := os.Rename(tmp.Name(), executable); err != nil {
		return fmt.Errorf("failed to install release %s over %q: %w\nCheck that the binary location is writable", release.Version, executable, err)
	}

	return nil
}

// CompareVersions orders two dotted version strings numerically, ignoring a
// leading "v" and anything after a pre-release dash. It returns -1, 0, or 1.
func CompareVersions(a, b string) int {
	pa := versionParts(a)
	pb := versionParts(b)

	for i, n := 0, max(len(pa), len(pb)); i < n; i++ {
		var na, nb int
		if i < len(pa) {
			na = pa[i]
		}
		if i < len(pb) {
			nb = pb[i]
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionParts(v string) []int {
	v = strings.TrimPrefix(v, "v")
	if dash := strings.IndexByte(v, '-'); dash >= 0 {
		v = v[:dash]
	}

	fields := strings.Split(v, ".")
	parts := make([]int, 0, len(fields))
	for _, field := range fields {
		n, err := strconv.Atoi(field)
		if err != nil {
			n = 0
		}
		parts = append(parts, n)
	}
	return parts
}
