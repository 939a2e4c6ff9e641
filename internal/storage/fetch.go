package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"tilepipe/internal/fileutil"
	"tilepipe/internal/services"
)

// shapefileCompanions lists sidecar extensions copied next to a .shp source.
var shapefileCompanions = []string{".shx", ".dbf", ".prj", ".cpg"}

// Resolver fetches locations it recognizes.
type Resolver interface {
	Owns(location string) bool
	Fetch(ctx context.Context, location, destDir string) (string, error)
}

// Fetcher downloads a source location into a local directory. Registered
// resolvers are consulted first, then s3:// URLs, local paths and file://
// URLs, then http(s) URLs.
type Fetcher struct {
	resolvers []Resolver
	objects   *minio.Client
	http      *http.Client
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithResolver registers a resolver ahead of the built-in schemes.
func WithResolver(r Resolver) FetcherOption {
	return func(f *Fetcher) {
		if r != nil {
			f.resolvers = append(f.resolvers, r)
		}
	}
}

// WithObjectClient enables s3:// locations.
func WithObjectClient(client *minio.Client) FetcherOption {
	return func(f *Fetcher) { f.objects = client }
}

// WithHTTPClient overrides the client used for http(s) locations.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.http = client
		}
	}
}

// NewFetcher builds a Fetcher whose http downloads give up after timeout.
func NewFetcher(timeout time.Duration, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{http: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch copies location into destDir and returns the local path of the
// primary file or directory.
func (f *Fetcher) Fetch(ctx context.Context, location, destDir string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", services.Wrap(services.ErrPayload, "", "fetch source", "empty location", nil)
	}
	for _, r := range f.resolvers {
		if r.Owns(location) {
			return r.Fetch(ctx, location, destDir)
		}
	}
	switch {
	case strings.HasPrefix(location, "s3://"):
		return f.fetchObject(ctx, location, destDir)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return f.fetchHTTP(ctx, location, destDir)
	case strings.HasPrefix(location, "file://"):
		u, err := url.Parse(location)
		if err != nil {
			return "", services.Wrap(services.ErrPayload, "", "fetch source", location, err)
		}
		return fetchLocal(u.Path, destDir)
	case strings.Contains(location, "://"):
		return "", services.Wrap(services.ErrPayload, "", "fetch source", fmt.Sprintf("unsupported scheme in %q", location), nil)
	default:
		return fetchLocal(location, destDir)
	}
}

func fetchLocal(src, destDir string) (string, error) {
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", services.Wrap(services.ErrNotFound, "", "fetch source", src, err)
	}
	if err != nil {
		return "", services.Wrap(services.ErrStore, "", "fetch source", src, err)
	}
	dest := filepath.Join(destDir, filepath.Base(src))
	if info.IsDir() {
		if err := fileutil.CopyDir(src, dest); err != nil {
			return "", services.Wrap(services.ErrStore, "", "copy source directory", src, err)
		}
		return dest, nil
	}
	if err := fileutil.CopyFile(src, dest); err != nil {
		return "", services.Wrap(services.ErrStore, "", "copy source", src, err)
	}
	if strings.EqualFold(filepath.Ext(src), ".shp") {
		base := strings.TrimSuffix(src, filepath.Ext(src))
		for _, ext := range shapefileCompanions {
			for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
				if _, err := os.Stat(candidate); err != nil {
					continue
				}
				if err := fileutil.CopyFile(candidate, filepath.Join(destDir, filepath.Base(candidate))); err != nil {
					return "", services.Wrap(services.ErrStore, "", "copy shapefile companion", candidate, err)
				}
				break
			}
		}
	}
	return dest, nil
}

func (f *Fetcher) fetchObject(ctx context.Context, location, destDir string) (string, error) {
	if f.objects == nil {
		return "", services.Wrap(services.ErrConfiguration, "", "fetch source", "no object store configured for "+location, nil)
	}
	bucket, key, ok := parseObjectURL(location)
	if !ok {
		return "", services.Wrap(services.ErrPayload, "", "fetch source", fmt.Sprintf("malformed object location %q", location), nil)
	}
	dest := filepath.Join(destDir, path.Base(key))
	if err := f.objects.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return "", mapObjectError("", "fetch source", location, err)
	}
	if strings.EqualFold(path.Ext(key), ".shp") {
		prefix := strings.TrimSuffix(key, path.Ext(key)) + "."
		for obj := range f.objects.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix}) {
			if obj.Err != nil {
				return "", services.Wrap(services.ErrStore, "", "list shapefile companions", location, obj.Err)
			}
			if obj.Key == key || !isCompanion(obj.Key) {
				continue
			}
			target := filepath.Join(destDir, path.Base(obj.Key))
			if err := f.objects.FGetObject(ctx, bucket, obj.Key, target, minio.GetObjectOptions{}); err != nil {
				return "", mapObjectError("", "fetch shapefile companion", obj.Key, err)
			}
		}
	}
	return dest, nil
}

func isCompanion(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, c := range shapefileCompanions {
		if ext == c {
			return true
		}
	}
	return false
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location, destDir string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", services.Wrap(services.ErrPayload, "", "fetch source", location, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", services.Wrap(services.ErrPayload, "", "fetch source", fmt.Sprintf("no file name in %q", location), nil)
	}
	dest := filepath.Join(destDir, name)
	if err := f.download(ctx, u.String(), dest, true); err != nil {
		return "", err
	}
	if strings.EqualFold(path.Ext(name), ".shp") {
		base := strings.TrimSuffix(u.Path, path.Ext(u.Path))
		for _, ext := range shapefileCompanions {
			companion := *u
			companion.Path = base + ext
			if err := f.download(ctx, companion.String(), filepath.Join(destDir, path.Base(companion.Path)), false); err != nil {
				return "", err
			}
		}
	}
	return dest, nil
}

// download writes the body at rawURL to dest. A 404 is an error only when
// required is set.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string, required bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return services.Wrap(services.ErrPayload, "", "fetch source", rawURL, err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrStore, "", "fetch source", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && !required {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return services.Wrap(services.ErrNotFound, "", "fetch source", rawURL, nil)
	}
	if resp.StatusCode/100 != 2 {
		return services.Wrap(services.ErrStore, "", "fetch source", fmt.Sprintf("%s returned %s", rawURL, resp.Status), nil)
	}
	out, err := os.Create(dest)
	if err != nil {
		return services.Wrap(services.ErrWorkspace, "", "create download target", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return services.Wrap(services.ErrStore, "", "download source", rawURL, err)
	}
	if err := out.Close(); err != nil {
		return services.Wrap(services.ErrWorkspace, "", "close download target", dest, err)
	}
	return nil
}
