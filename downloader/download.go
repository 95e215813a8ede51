package downloader

import (
	"context"
	"crypto/sha1" //nolint:gosec // npm shasum is sha1; not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-h/npm-mirror/db"
	"github.com/a-h/npm-mirror/npm/sri"
)

const downloadTimeout = 5 * time.Minute

// localPath derives a destination path deterministically from the tarball
// URL's own path, so re-downloading the same URL always lands on the same
// file (spec §4.6: "a path derived deterministically from the URL's
// trailing segments").
func localPath(destDir, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || strings.TrimLeft(u.Path, "/") == "" {
		return "", badURLError()
	}
	return filepath.Join(destDir, filepath.FromSlash(strings.TrimLeft(u.Path, "/"))), nil
}

// downloadTask fetches a single task's tarball into destDir, verifying its
// shasum if present. Grounded on the teacher's npm/download.downloadTarball
// (streaming-hash pattern) and original_source/downloader's error taxonomy.
func downloadTask(ctx context.Context, client *http.Client, task db.DownloadTask, destDir string) (db.DownloadedTarball, *DownloadError) {
	path, derr := localPath(destDir, task.URL)
	if derr != nil {
		return db.DownloadedTarball{}, derr
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return db.DownloadedTarball{}, requestError(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return db.DownloadedTarball{}, requestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return db.DownloadedTarball{}, statusError(resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return db.DownloadedTarball{}, ioError(err)
	}
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return db.DownloadedTarball{}, ioError(err)
	}
	defer os.Remove(tmpPath)

	hasher := sha1.New() //nolint:gosec
	writers := []io.Writer{file, hasher}
	var integrityCheck *sri.SRI
	if task.Integrity != nil && *task.Integrity != "" {
		parsed, err := sri.Parse(*task.Integrity)
		if err == nil {
			integrityCheck = parsed
			writers = append(writers, integrityCheck)
		}
	}
	if _, err := io.Copy(io.MultiWriter(writers...), resp.Body); err != nil {
		file.Close()
		return db.DownloadedTarball{}, ioError(err)
	}
	if err := file.Close(); err != nil {
		return db.DownloadedTarball{}, ioError(err)
	}

	actualShasum := hex.EncodeToString(hasher.Sum(nil))
	if task.Shasum != nil && *task.Shasum != "" && *task.Shasum != actualShasum {
		return db.DownloadedTarball{}, otherError(fmt.Errorf("shasum mismatch: expected %s, got %s", *task.Shasum, actualShasum))
	}
	if integrityCheck != nil && integrityCheck.String() != *task.Integrity {
		return db.DownloadedTarball{}, otherError(fmt.Errorf("integrity mismatch: expected %s, got %s", *task.Integrity, integrityCheck.String()))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return db.DownloadedTarball{}, ioError(err)
	}

	return db.DownloadedTarball{
		URL:          task.URL,
		DownloadedAt: time.Now(),
		LocalPath:    path,
		Shasum:       &actualShasum,
	}, nil
}
