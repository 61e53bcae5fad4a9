// Package fetch downloads dataset archives over HTTP and extracts them.
package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/httpclient"
	"github.com/tmakinen/pixelset/internal/logging"
	"github.com/tmakinen/pixelset/internal/observability"
)

// Downloader fetches zip archives into a target directory.
type Downloader struct {
	Client  *httpclient.Client
	Metrics *observability.FetchMetrics // optional

	logger *slog.Logger
}

// NewDownloader returns a Downloader using the given HTTP client.
// A nil client gets the default configuration.
func NewDownloader(client *httpclient.Client, metrics *observability.FetchMetrics) *Downloader {
	if client == nil {
		client = httpclient.New(nil)
	}
	return &Downloader{
		Client:  client,
		Metrics: metrics,
		logger:  logging.ForService("fetch"),
	}
}

// DownloadAndExtract downloads the archive at url and extracts it under dir.
// When dir already contains extracted files the download is skipped, matching
// re-run behavior of dataset tutorials. Returns the number of files on disk.
func (d *Downloader) DownloadAndExtract(ctx context.Context, url, dir string) (int, error) {
	if existing, err := countFiles(dir); err == nil && existing > 0 {
		d.logger.Info("archive already extracted, skipping download",
			"dir", dir,
			"files", existing)
		if d.Metrics != nil {
			d.Metrics.RecordDownload("skipped")
		}
		return existing, nil
	}

	archivePath, size, err := d.downloadToTemp(ctx, url)
	if err != nil {
		if d.Metrics != nil {
			d.Metrics.RecordDownload("error")
		}
		return 0, err
	}
	defer os.Remove(archivePath)

	extracted, err := extractZip(archivePath, dir)
	if err != nil {
		if d.Metrics != nil {
			d.Metrics.RecordDownload("error")
		}
		return 0, err
	}

	if d.Metrics != nil {
		d.Metrics.RecordDownload("success")
		d.Metrics.RecordDownloadBytes(size)
		d.Metrics.RecordExtractedFiles(extracted)
	}
	d.logger.Info("archive downloaded and extracted",
		"url", url,
		"dir", dir,
		"bytes", size,
		"files", extracted)

	return extracted, nil
}

// downloadToTemp streams the response body to a temporary file and returns
// its path and size.
func (d *Downloader) downloadToTemp(ctx context.Context, url string) (string, int64, error) {
	start := time.Now()

	resp, err := d.Client.Get(ctx, url)
	if err != nil {
		return "", 0, errors.New(fmt.Errorf("downloading archive: %w", err)).
			Component("fetch").
			Category(errors.CategoryNetwork).
			NetworkContext(url, 0).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, errors.Newf("downloading archive: unexpected status %s", resp.Status).
			Component("fetch").
			Category(errors.CategoryHTTP).
			NetworkContext(url, 0).
			Context("status_code", resp.StatusCode).
			Build()
	}

	tmp, err := os.CreateTemp("", "pixelset-archive-*.zip")
	if err != nil {
		return "", 0, errors.New(fmt.Errorf("creating temp file: %w", err)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			Build()
	}

	size, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, errors.New(fmt.Errorf("writing archive: %w", err)).
			Component("fetch").
			Category(errors.CategoryNetwork).
			NetworkContext(url, 0).
			Timing("download", time.Since(start)).
			Build()
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return "", 0, errors.New(fmt.Errorf("closing archive file: %w", closeErr)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			Build()
	}

	return tmp.Name(), size, nil
}

// extractZip extracts all regular files from the archive into dir,
// rejecting entries that would escape it.
func extractZip(archivePath, dir string) (int, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, errors.New(fmt.Errorf("opening archive: %w", err)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			FileContext(archivePath, 0).
			Build()
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.New(fmt.Errorf("creating extraction directory: %w", err)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			Context("dir", dir).
			Build()
	}

	extracted := 0
	for _, f := range r.File {
		destPath, err := safeJoin(dir, f.Name)
		if err != nil {
			return extracted, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return extracted, errors.New(fmt.Errorf("creating directory: %w", err)).
					Component("fetch").
					Category(errors.CategoryFileIO).
					Context("dir", destPath).
					Build()
			}
			continue
		}

		if err := extractFile(f, destPath); err != nil {
			return extracted, err
		}
		extracted++
	}

	return extracted, nil
}

// safeJoin joins an archive entry name onto dir and rejects path traversal.
func safeJoin(dir, name string) (string, error) {
	destPath := filepath.Join(dir, name) //nolint:gosec // validated below
	cleanDir := filepath.Clean(dir) + string(os.PathSeparator)
	if !strings.HasPrefix(destPath, cleanDir) {
		return "", errors.Newf("archive entry escapes extraction directory: %s", name).
			Component("fetch").
			Category(errors.CategoryValidation).
			Build()
	}
	return destPath, nil
}

func extractFile(f *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errors.New(fmt.Errorf("creating directory: %w", err)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			Build()
	}

	src, err := f.Open()
	if err != nil {
		return errors.New(fmt.Errorf("opening archive entry: %w", err)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			Context("entry", f.Name).
			Build()
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return errors.New(fmt.Errorf("creating file: %w", err)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			FileContext(destPath, 0).
			Build()
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil { //nolint:gosec // local archive extraction
		return errors.New(fmt.Errorf("extracting file: %w", err)).
			Component("fetch").
			Category(errors.CategoryFileIO).
			FileContext(destPath, 0).
			Build()
	}
	return nil
}

// countFiles counts regular files under dir recursively.
func countFiles(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
