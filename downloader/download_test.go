package downloader

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/a-h/npm-mirror/db"
)

func TestLocalPath_Deterministic(t *testing.T) {
	p1, err := localPath("/dest", "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := localPath("/dest", "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Errorf("localPath not deterministic: %q != %q", p1, p2)
	}
	want := filepath.Join("/dest", "left-pad", "-", "left-pad-1.3.0.tgz")
	if p1 != want {
		t.Errorf("localPath = %q, want %q", p1, want)
	}
}

func TestLocalPath_BadURL(t *testing.T) {
	if _, err := localPath("/dest", "::not a url::"); err == nil {
		t.Error("expected an error for a malformed URL")
	}
	if _, err := localPath("/dest", "https://registry.npmjs.org"); err == nil {
		t.Error("expected an error for a URL with no path")
	}
}

func TestDownloadTask_SuccessVerifiesShasum(t *testing.T) {
	body := []byte("fake tarball contents")
	sum := sha1.Sum(body) //nolint:gosec
	shasum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	task := db.DownloadTask{URL: srv.URL + "/pkg/-/pkg-1.0.0.tgz", Shasum: &shasum}

	tarball, derr := downloadTask(context.Background(), srv.Client(), task, destDir)
	if derr != nil {
		t.Fatalf("downloadTask() error = %v", derr)
	}
	if tarball.URL != task.URL {
		t.Errorf("tarball.URL = %q, want %q", tarball.URL, task.URL)
	}
	got, err := os.ReadFile(tarball.LocalPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(body) {
		t.Error("downloaded file contents do not match server body")
	}
}

func TestDownloadTask_ShasumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actual contents"))
	}))
	defer srv.Close()

	wrongSum := "0000000000000000000000000000000000000000"
	task := db.DownloadTask{URL: srv.URL + "/pkg/-/pkg-1.0.0.tgz", Shasum: &wrongSum}

	_, derr := downloadTask(context.Background(), srv.Client(), task, t.TempDir())
	if derr == nil {
		t.Fatal("expected a shasum mismatch error")
	}
	if derr.Kind != ErrorOther {
		t.Errorf("derr.Kind = %v, want ErrorOther", derr.Kind)
	}
}

func TestDownloadTask_SuccessVerifiesIntegrity(t *testing.T) {
	body := []byte("fake tarball contents")
	sum := sha256.Sum256(body)
	integrity := "sha256-" + base64.StdEncoding.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	task := db.DownloadTask{URL: srv.URL + "/pkg/-/pkg-1.0.0.tgz", Integrity: &integrity}
	tarball, derr := downloadTask(context.Background(), srv.Client(), task, t.TempDir())
	if derr != nil {
		t.Fatalf("downloadTask() error = %v", derr)
	}
	if tarball.URL != task.URL {
		t.Errorf("tarball.URL = %q, want %q", tarball.URL, task.URL)
	}
}

func TestDownloadTask_IntegrityMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actual contents"))
	}))
	defer srv.Close()

	wrongIntegrity := "sha256-" + base64.StdEncoding.EncodeToString(make([]byte, sha256.Size))
	task := db.DownloadTask{URL: srv.URL + "/pkg/-/pkg-1.0.0.tgz", Integrity: &wrongIntegrity}

	_, derr := downloadTask(context.Background(), srv.Client(), task, t.TempDir())
	if derr == nil {
		t.Fatal("expected an integrity mismatch error")
	}
	if derr.Kind != ErrorOther {
		t.Errorf("derr.Kind = %v, want ErrorOther", derr.Kind)
	}
}

func TestDownloadTask_StatusNotOk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	task := db.DownloadTask{URL: srv.URL + "/pkg/-/pkg-1.0.0.tgz"}
	_, derr := downloadTask(context.Background(), srv.Client(), task, t.TempDir())
	if derr == nil || derr.Kind != ErrorStatusNotOk {
		t.Fatalf("expected ErrorStatusNotOk, got %v", derr)
	}
	if derr.StatusCode != http.StatusNotFound {
		t.Errorf("derr.StatusCode = %d, want %d", derr.StatusCode, http.StatusNotFound)
	}
}
