package tiger

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/fetcher"
)

// DownloaderOptions configures archive acquisition.
type DownloaderOptions struct {
	CacheDir string
	HTTP     *fetcher.HTTPFetcher
	FTP      *fetcher.FTPFetcher
}

// Downloader fetches TIGER/Line archives over HTTPS or the FTP mirror and
// extracts them into a local cache. Archives for a given year are immutable,
// so cached ZIPs are reused; HTTPS fetches keep an ETag sidecar so a cached
// archive can be revalidated without re-pulling it.
type Downloader struct {
	http     *fetcher.HTTPFetcher
	ftp      *fetcher.FTPFetcher
	cacheDir string
}

// NewDownloader creates a Downloader, building default fetchers when none
// are supplied. The HTTP timeout is generous: a state block group archive
// runs tens of megabytes.
func NewDownloader(opts DownloaderOptions) *Downloader {
	if opts.CacheDir == "" {
		opts.CacheDir = "/tmp/reachstat/tiger"
	}
	if opts.HTTP == nil {
		opts.HTTP = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:      10 * time.Minute,
			RateLimiters: fetcher.DefaultRateLimiters(),
		})
	}
	if opts.FTP == nil {
		opts.FTP = fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: 10 * time.Minute})
	}
	return &Downloader{
		http:     opts.HTTP,
		ftp:      opts.FTP,
		cacheDir: opts.CacheDir,
	}
}

// Download fetches the archive at rawURL (https or ftp scheme), extracts it,
// and returns the path to the extracted .shp file.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("url", rawURL),
	)

	if err := os.MkdirAll(d.cacheDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create cache dir")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "tiger: parse archive url")
	}
	zipName := filepath.Base(u.Path)
	if !strings.HasSuffix(zipName, ".zip") {
		return "", eris.Errorf("tiger: archive url %s does not end in .zip", rawURL)
	}
	zipPath := filepath.Join(d.cacheDir, zipName)

	if u.Scheme == "ftp" {
		err = d.fetchFTP(ctx, rawURL, zipPath, log)
	} else {
		err = d.fetchHTTP(ctx, rawURL, zipPath, log)
	}
	if err != nil {
		return "", err
	}

	extractDir := filepath.Join(d.cacheDir, strings.TrimSuffix(zipName, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "tiger: extract archive")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "tiger: find .shp file")
	}

	return shpPath, nil
}

// fetchHTTP downloads over HTTPS with ETag revalidation. A cached archive
// without a sidecar is trusted as-is.
func (d *Downloader) fetchHTTP(ctx context.Context, rawURL, zipPath string, log *zap.Logger) error {
	etagPath := zipPath + ".etag"

	var cachedETag string
	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		b, readErr := os.ReadFile(etagPath)
		if readErr != nil {
			log.Debug("archive cached without etag, skipping download", zap.String("path", zipPath))
			return nil
		}
		cachedETag = strings.TrimSpace(string(b))
	}

	body, newETag, changed, err := d.http.DownloadIfChanged(ctx, rawURL, cachedETag)
	if err != nil {
		return eris.Wrap(err, "tiger: download archive")
	}
	if !changed {
		log.Debug("archive unchanged, using cache", zap.String("path", zipPath))
		return nil
	}
	defer body.Close() //nolint:errcheck

	log.Info("downloading TIGER archive")
	if err := writeAtomic(zipPath, body); err != nil {
		return err
	}
	if newETag != "" {
		if err := os.WriteFile(etagPath, []byte(newETag), 0o644); err != nil {
			log.Warn("failed to write etag sidecar", zap.Error(err))
		}
	}

	return nil
}

// fetchFTP downloads from the census FTP mirror. The mirror has no
// conditional fetch, so an existing archive is always reused.
func (d *Downloader) fetchFTP(ctx context.Context, rawURL, zipPath string, log *zap.Logger) error {
	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("archive cached, skipping ftp download", zap.String("path", zipPath))
		return nil
	}

	log.Info("downloading TIGER archive from ftp mirror")
	if _, err := d.ftp.DownloadToFile(ctx, rawURL, zipPath); err != nil {
		return eris.Wrap(err, "tiger: ftp download archive")
	}
	return nil
}

// writeAtomic streams r to path via a temp file and rename so a failed
// download never leaves a truncated archive in the cache.
func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tiger-download-*")
	if err != nil {
		return eris.Wrap(err, "tiger: create temp file")
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "tiger: write archive")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "tiger: close archive")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrap(err, "tiger: move archive into cache")
	}
	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
