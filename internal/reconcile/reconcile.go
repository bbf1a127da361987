// Package reconcile rebuilds the output tree from the full set of posts.
//
// A sync is a full rebuild: every post is rendered in memory, then every
// generated document under the root is removed (preserved names excepted),
// directories left empty are pruned, and each post is written at the path
// its id describes. Running it twice with the same posts yields a
// byte-identical tree.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/postgate/internal/fs"
	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/render"
)

var (
	// ErrInvalidID is returned when a post id does not map to a path inside
	// the output root.
	ErrInvalidID = errors.New("invalid post id")

	// ErrPreservedPath is returned when a post id maps to a preserved file
	// name. Such a document would replace a file the sync never removes.
	ErrPreservedPath = errors.New("post id maps to a preserved file")
)

const (
	// DefaultExtension is the file extension of generated documents.
	DefaultExtension = ".md"

	// DefaultPreserved is the section file the site generator owns.
	DefaultPreserved = "_index.md"

	filePerm = 0o644
	dirPerm  = 0o755
)

// Report summarizes what a sync changed.
type Report struct {
	DocumentsRemoved   int
	DirectoriesRemoved int
	DocumentsWritten   int
}

// Reconciler owns the generated documents under a root directory.
type Reconciler struct {
	fs       fs.FS
	root     string
	ext      string
	preserve map[string]struct{}
}

// Option configures a [Reconciler].
type Option func(*Reconciler)

// WithExtension sets the document extension (default ".md").
func WithExtension(ext string) Option {
	return func(r *Reconciler) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		r.ext = ext
	}
}

// WithPreserve replaces the set of file names a sync never deletes.
func WithPreserve(names ...string) Option {
	return func(r *Reconciler) {
		r.preserve = make(map[string]struct{}, len(names))
		for _, n := range names {
			r.preserve[n] = struct{}{}
		}
	}
}

// New returns a Reconciler that maintains documents under root.
func New(fsys fs.FS, root string, opts ...Option) *Reconciler {
	r := &Reconciler{
		fs:       fsys,
		root:     filepath.Clean(root),
		ext:      DefaultExtension,
		preserve: map[string]struct{}{DefaultPreserved: {}},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Root returns the output root.
func (r *Reconciler) Root() string {
	return r.root
}

// Path returns the document path for a post id.
func (r *Reconciler) Path(id string) (string, error) {
	rel := filepath.FromSlash(id) + r.ext
	if id == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	if _, ok := r.preserve[filepath.Base(rel)]; ok {
		return "", fmt.Errorf("%w: %q", ErrPreservedPath, id)
	}

	return filepath.Join(r.root, rel), nil
}

type document struct {
	path string
	data []byte
}

// Sync replaces the generated documents under the root with posts.
//
// Rendering happens before anything on disk changes, so a post that fails to
// render leaves the tree as it was. A failure after that point leaves the
// tree partially rebuilt; the next successful sync repairs it.
func (r *Reconciler) Sync(ctx context.Context, posts []post.Post) (Report, error) {
	var report Report

	docs := make([]document, 0, len(posts))

	for _, p := range posts {
		path, err := r.Path(p.ID)
		if err != nil {
			return report, fmt.Errorf("sync: %w", err)
		}

		data, err := render.Render(p)
		if err != nil {
			return report, fmt.Errorf("sync: %w", err)
		}

		docs = append(docs, document{path: path, data: data})
	}

	err := r.fs.MkdirAll(r.root, dirPerm)
	if err != nil {
		return report, fmt.Errorf("sync: creating root: %w", err)
	}

	_, err = r.clean(ctx, r.root, &report)
	if err != nil {
		return report, fmt.Errorf("sync: %w", err)
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sync: %w", err)
		}

		err = r.fs.MkdirAll(filepath.Dir(doc.path), dirPerm)
		if err != nil {
			return report, fmt.Errorf("sync: creating directory: %w", err)
		}

		err = r.fs.WriteFileAtomic(doc.path, doc.data, filePerm)
		if err != nil {
			return report, fmt.Errorf("sync: writing %s: %w", doc.path, err)
		}

		report.DocumentsWritten++
	}

	return report, nil
}

// clean removes generated documents below dir and prunes directories that end
// up empty. It returns how many entries remain in dir. dir itself is never
// removed here; the caller decides.
func (r *Reconciler) clean(ctx context.Context, dir string, report *Report) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}

	remaining := 0

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			left, err := r.clean(ctx, path, report)
			if err != nil {
				return 0, err
			}

			if left > 0 {
				remaining++

				continue
			}

			err = r.fs.Remove(path)
			if err != nil {
				return 0, fmt.Errorf("removing directory %s: %w", path, err)
			}

			report.DirectoriesRemoved++

			continue
		}

		if !r.generated(entry.Name()) {
			remaining++

			continue
		}

		err = r.fs.Remove(path)
		if err != nil {
			return 0, fmt.Errorf("removing %s: %w", path, err)
		}

		report.DocumentsRemoved++
	}

	return remaining, nil
}

func (r *Reconciler) generated(name string) bool {
	if _, ok := r.preserve[name]; ok {
		return false
	}

	return strings.HasSuffix(name, r.ext)
}
