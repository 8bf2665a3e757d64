package wbdclip

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	adst "go.airbusds-geo.com/gcp/storage"
)

// An ArtifactStore owns the final location of clipped outputs. Artifacts are
// produced into a local temporary file and published in a single step so
// that no reader ever observes a partial artifact.
type ArtifactStore interface {
	// Location returns the final path or url of the artifact of id
	Location(id string) string
	// TempPath returns a local path, unique to attempt, to clip id into
	TempPath(id, attempt string) (string, error)
	// Publish validates tmp and moves it to the final location of id
	Publish(ctx context.Context, id, tmp string) error
	// Verify reports whether a complete artifact exists for id
	Verify(ctx context.Context, id string) (bool, error)
}

func artifactName(id string) string {
	return id + ".tif"
}

// DirStore stores artifacts in a local (or shared) directory. Temporary files
// are created in a hidden subdirectory so that publication is a same-filesystem
// rename.
type DirStore struct {
	Dir      string
	Validate Validator
}

func (s DirStore) validator() Validator {
	if s.Validate == nil {
		return ValidateGeoTIFF
	}
	return s.Validate
}

func (s DirStore) Location(id string) string {
	return filepath.Join(s.Dir, artifactName(id))
}

func (s DirStore) TempPath(id, attempt string) (string, error) {
	tdir := filepath.Join(s.Dir, ".tmp")
	if err := os.MkdirAll(tdir, 0755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return filepath.Join(tdir, id+"."+attempt+".tif"), nil
}

func (s DirStore) Publish(_ context.Context, id, tmp string) error {
	if err := s.validator()(tmp); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	if err := os.Rename(tmp, s.Location(id)); err != nil {
		return fmt.Errorf("rename %s->%s: %w", tmp, s.Location(id), err)
	}
	return nil
}

// Verify returns false for missing or truncated artifacts. Only permission
// errors are reported, as they would otherwise make every item look pending.
func (s DirStore) Verify(_ context.Context, id string) (bool, error) {
	err := s.validator()(s.Location(id))
	if errors.Is(err, fs.ErrPermission) {
		return false, err
	}
	return err == nil, nil
}

// ObjectStore is the part of cloud storage used by GCSStore
type ObjectStore interface {
	// UploadFromFile uploads the local file src to the gs:// url dst
	UploadFromFile(ctx context.Context, dst, src string) error
	// Size returns the size of the object at url, or an error wrapping
	// storage.ErrObjectNotExist
	Size(ctx context.Context, url string) (int64, error)
}

// GCSObjects is the ObjectStore backed by google cloud storage clients
type GCSObjects struct {
	Client   *storage.Client
	Uploader *adst.Client
}

func (o GCSObjects) UploadFromFile(ctx context.Context, dst, src string) error {
	return o.Uploader.UploadFromFile(ctx, dst, src)
}

func (o GCSObjects) Size(ctx context.Context, url string) (int64, error) {
	bucket, object, err := adst.Parse(url)
	if err != nil {
		return 0, fmt.Errorf("invalid url %s: %w", url, err)
	}
	attrs, err := o.Client.Bucket(bucket).Object(path.Clean(object)).Attrs(ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

// GCSStore stores artifacts under a gs://bucket/prefix url. Cloud storage
// objects only become visible once their upload has completed.
type GCSStore struct {
	URL      string
	TempDir  string
	Objects  ObjectStore
	Validate Validator
}

func (s GCSStore) Location(id string) string {
	return strings.TrimSuffix(s.URL, "/") + "/" + artifactName(id)
}

func (s GCSStore) TempPath(id, attempt string) (string, error) {
	tdir := s.TempDir
	if tdir == "" {
		tdir = os.TempDir()
	}
	if err := os.MkdirAll(tdir, 0755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return filepath.Join(tdir, id+"."+attempt+".tif"), nil
}

func (s GCSStore) Publish(ctx context.Context, id, tmp string) error {
	validate := s.Validate
	if validate == nil {
		validate = ValidateGeoTIFF
	}
	if err := validate(tmp); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	dst := s.Location(id)
	if err := s.Objects.UploadFromFile(ctx, dst, tmp); err != nil {
		return fmt.Errorf("upload %s: %w", dst, err)
	}
	return os.Remove(tmp)
}

func (s GCSStore) Verify(ctx context.Context, id string) (bool, error) {
	size, err := s.Objects.Size(ctx, s.Location(id))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", s.Location(id), err)
	}
	return size > 0, nil
}
