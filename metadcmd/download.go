package metadcmd

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spatialmodel/colvars/cloud"
)

// maybeDownload returns path unchanged if it already names a local file;
// otherwise, if it is an http(s) URL or a blob URL (gs://, s3://, file://),
// it downloads the file to a temporary directory and returns the local
// path, so input file configuration keys (cvFile, targetDistFile,
// targetDistExpression) can transparently name remote inputs (adapted from
// inmaputil's download.go, trimmed of its shapefile-sidecar handling since
// metad inputs are always single files).
func maybeDownload(ctx context.Context, path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return downloadHTTP(path)
	}
	if isBlobURL(path) {
		return downloadBlob(ctx, path)
	}
	return path, nil
}

func isBlobURL(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "file://")
}

func downloadHTTP(path string) (string, error) {
	dir, err := ioutil.TempDir("", "metad")
	if err != nil {
		return "", fmt.Errorf("metadcmd: creating download directory: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(path))
	w, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer w.Close()
	resp, err := http.Get(path)
	if err != nil {
		return "", fmt.Errorf("metadcmd: downloading %s: %w", path, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return dst, nil
}

func downloadBlob(ctx context.Context, path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	bucket, err := cloud.OpenBucket(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return "", err
	}
	dir, err := ioutil.TempDir("", "metad")
	if err != nil {
		return "", fmt.Errorf("metadcmd: creating download directory: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(u.Path))
	w, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer w.Close()
	r, err := bucket.NewReader(ctx, strings.TrimPrefix(u.Path, "/"), nil)
	if err != nil {
		return "", fmt.Errorf("metadcmd: opening blob %s: %w", path, err)
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return dst, err
}
