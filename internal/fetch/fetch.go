// Package fetch downloads remote shapefile archives over HTTP(S) or FTP.
package fetch

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher retrieves a remote file.
type Fetcher interface {
	// Download returns the body of url. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures the fetchers built by ForURL.
type Options struct {
	Timeout     time.Duration // per connection; default 30s
	MaxAttempts int           // HTTP attempts including the first; default 3
	UserAgent   string        // default "geobuffer/1.0"
	Rate        rate.Limit    // HTTP requests per second; default 5
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.UserAgent == "" {
		o.UserAgent = "geobuffer/1.0"
	}
	if o.Rate <= 0 {
		o.Rate = 5
	}
	return o
}

// IsRemote reports whether arg is an http, https or ftp URL.
func IsRemote(arg string) bool {
	u, err := url.Parse(arg)
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// ForURL returns the fetcher for the scheme of rawURL.
func ForURL(rawURL string, opts Options) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: parse url")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPFetcher(opts), nil
	case "ftp":
		return NewFTPFetcher(opts), nil
	}
	return nil, eris.Errorf("fetch: unsupported scheme %q", u.Scheme)
}

// ToFile downloads rawURL into dir under the last element of its path and
// returns the local path and the number of bytes written.
func ToFile(ctx context.Context, f Fetcher, rawURL, dir string) (string, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, eris.Wrap(err, "fetch: parse url")
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	dest := filepath.Join(dir, filepath.Base(name))

	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return "", 0, err
	}
	defer body.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", 0, eris.Wrap(err, "fetch: create file")
	}
	n, err := io.Copy(out, body)
	if err != nil {
		_ = out.Close()
		return "", n, eris.Wrap(err, "fetch: write file")
	}
	if err := out.Close(); err != nil {
		return "", n, eris.Wrap(err, "fetch: close file")
	}

	zap.L().Info("downloaded",
		zap.String("component", "fetch"),
		zap.String("url", u.Redacted()),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, n, nil
}
