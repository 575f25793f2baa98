package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the archive step.
type Input struct {
	Endpoint  string `arg:"endpoint,required"`
	Bucket    string `arg:"bucket,required"`
	AccessKey string `arg:"access_key"`
	SecretKey string `arg:"secret_key"`
	UseSSL    bool   `arg:"use_ssl"`
	Region    string `arg:"region"`
	Prefix    string `arg:"prefix"`
	// Paths are relative to the subject directory, or to the study's group
	// directory for group nodes.
	Paths []string `arg:"paths"`
}

func newInput() any {
	return &Input{UseSSL: true, Paths: []string{"results", "qa"}}
}

// file is one upload.
type file struct {
	path string
	key  string
}

// root returns the directory the paths are relative to and the key segment
// naming it.
func root(deps *registry.Deps) (dir, owner string) {
	if deps.Subject == nil {
		return deps.Study.GroupDir(""), "group"
	}
	return deps.Subject.Path(), deps.Subject.ID()
}

// collect walks the requested paths. Missing paths are skipped.
func collect(ctx context.Context, dir, keyBase string, paths []string) ([]file, error) {
	logger := ctxlog.FromContext(ctx)
	var files []file
	for _, p := range paths {
		start := filepath.Join(dir, filepath.FromSlash(p))
		if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Archive path does not exist, skipping.", "path", start)
			continue
		}
		err := filepath.WalkDir(start, func(cur string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, cur)
			if err != nil {
				return err
			}
			files = append(files, file{path: cur, key: path.Join(keyBase, filepath.ToSlash(rel))})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", start, err)
		}
	}
	return files, nil
}

// contentType treats .nii.gz and other compressed images as gzip.
func contentType(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return "application/gzip"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// OnRunArchive uploads the node's outputs to
// <prefix>/<study>/<subject or group>/<relative path>.
func OnRunArchive(ctx context.Context, deps *registry.Deps, in *Input) error {
	dir, owner := root(deps)
	logger := ctxlog.FromContext(ctx).With("bucket", in.Bucket, "endpoint", in.Endpoint)

	files, err := collect(ctx, dir, path.Join(in.Prefix, deps.Study.Name(), owner), in.Paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		logger.Warn("Nothing to archive.", "dir", dir)
		return nil
	}
	if deps.DryRun {
		logger.Info("Dry run, not uploading.", "files", len(files))
		return nil
	}

	store, err := newStore(in)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	var total int64
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := store.Upload(ctx, f.key, f.path, contentType(f.path))
		if err != nil {
			return fmt.Errorf("failed to upload '%s': %w", f.path, err)
		}
		logger.Debug("Uploaded file.", "key", f.key, "size", n)
		total += n
	}
	logger.Info("Archived outputs.", "files", len(files), "bytes", total)
	return nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("archive", &registry.RegisteredRunner{
		NewInput:   newInput,
		Scopes:     []config.Scope{config.ScopeSubject, config.ScopeGroup},
		DryRunSafe: true,
		Fn:         OnRunArchive,
	})
}
