// Package archive produces backup artifacts: compressed zip archives or
// verbatim directory mirrors.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/models"
	"github.com/rs/zerolog"
)

// artifactTimeLayout is the timestamp suffix of every artifact name.
const artifactTimeLayout = "20060102_150405"

// Service defines the interface for artifact creation.
type Service interface {
	Create(ctx context.Context, req models.ArchiveRequest) (*models.ArchiveResult, error)
}

// Opener opens source files for reading.
type Opener interface {
	Open(path string) (io.ReadCloser, error)
}

// OSOpener reads from the local filesystem.
type OSOpener struct{}

// Open opens path for reading.
func (OSOpener) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Impl implements the archive Service interface.
type Impl struct {
	opener Opener
	logger zerolog.Logger
}

// New creates a new archive service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		opener: OSOpener{},
		logger: logger,
	}
}

// NewWithOpener creates a new archive service with a custom opener (for testing).
func NewWithOpener(logger zerolog.Logger, opener Opener) *Impl {
	return &Impl{
		opener: opener,
		logger: logger,
	}
}

// ArtifactName returns the base name of the artifact for a task at ts,
// without extension.
func ArtifactName(taskName string, ts time.Time) string {
	return fmt.Sprintf("backup_%s_%s", taskName, ts.Format(artifactTimeLayout))
}

// Create writes one artifact for req. Per-file failures are collected in
// the result; the returned error is set only when no usable artifact could
// be produced.
func (s *Impl) Create(ctx context.Context, req models.ArchiveRequest) (*models.ArchiveResult, error) {
	start := time.Now()

	src, err := filepath.Abs(req.Source)
	if err != nil {
		return nil, fmt.Errorf("resolving source: %w", err)
	}
	dst, err := filepath.Abs(req.Destination)
	if err != nil {
		return nil, fmt.Errorf("resolving destination: %w", err)
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination %s: %w", dst, err)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = start
	}
	name := ArtifactName(req.TaskName, ts)

	s.logger.Info().
		Str("task", req.TaskName).
		Str("source", src).
		Str("destination", dst).
		Str("mode", string(req.Mode)).
		Msg("creating backup artifact")

	var result *models.ArchiveResult
	switch req.Mode {
	case models.ModeCompressed:
		result, err = s.compress(ctx, src, info, dst, name, req.CompressionLevel)
	case models.ModeMirror:
		result, err = s.mirror(ctx, src, info, dst, name)
	default:
		return nil, fmt.Errorf("unknown archival mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	flushFilesystem()

	result.Duration = time.Since(start)
	for _, ie := range result.ItemErrors {
		s.logger.Warn().Err(ie.Err).Str("path", ie.Path).Msg("skipped file")
	}
	s.logger.Info().
		Str("artifact", result.ArtifactPath).
		Int("files", result.FilesWritten).
		Int64("bytes", result.BytesWritten).
		Int("skipped", len(result.ItemErrors)).
		Dur("duration", result.Duration).
		Msg("backup artifact written")

	return result, nil
}

func (s *Impl) compress(ctx context.Context, src string, info fs.FileInfo, dst, name string, level int) (*models.ArchiveResult, error) {
	if level < flate.NoCompression || level > flate.BestCompression {
		return nil, fmt.Errorf("compression level %d is outside 0-9", level)
	}

	spill, err := newEntrySpill(level)
	if err != nil {
		return nil, fmt.Errorf("creating spill file: %w", err)
	}
	defer func() { _ = spill.Close() }()

	f, path, err := createUnique(dst, name, ".zip")
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	result := &models.ArchiveResult{ArtifactPath: path}

	zw := zip.NewWriter(f)

	add := func(file, entry string, fi fs.FileInfo) {
		n, err := s.addEntry(zw, spill, file, entry, fi)
		if err != nil {
			result.ItemErrors = append(result.ItemErrors, models.ItemError{Path: file, Err: err})
			return
		}
		result.FilesWritten++
		result.BytesWritten += n
	}

	if info.IsDir() {
		err = s.walk(ctx, src, path, result, func(file, rel string, d fs.DirEntry, fi fs.FileInfo) error {
			if !d.IsDir() {
				add(file, filepath.ToSlash(rel), fi)
			}
			return nil
		})
	} else {
		add(src, filepath.Base(src), info)
	}

	if cerr := zw.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("finalising archive: %w", cerr)
	}
	_ = f.Sync()
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing archive: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return result, nil
}

// addEntry compresses file into the spill and copies the finished entry
// into zw. A read failure leaves zw untouched.
func (s *Impl) addEntry(zw *zip.Writer, spill *entrySpill, file, entry string, fi fs.FileInfo) (int64, error) {
	r, err := s.opener.Open(file)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return 0, err
	}
	hdr.Name = entry
	hdr.Method = zip.Deflate

	staged, n, err := spill.stage(hdr, r)
	if err != nil {
		return 0, err
	}
	if err := zw.Copy(staged); err != nil {
		return 0, fmt.Errorf("copying staged entry: %w", err)
	}
	return n, nil
}

// entrySpill is a scratch file holding one compressed entry at a time.
type entrySpill struct {
	f     *os.File
	level int
}

func newEntrySpill(level int) (*entrySpill, error) {
	f, err := os.CreateTemp("", "gobackup-entry-*.zip")
	if err != nil {
		return nil, err
	}
	return &entrySpill{f: f, level: level}, nil
}

// stage writes r as the only entry of a fresh zip in the spill and returns
// that entry, ready for zip.Writer.Copy. The returned file is valid until
// the next call.
func (sp *entrySpill) stage(hdr *zip.FileHeader, r io.Reader) (*zip.File, int64, error) {
	if err := sp.f.Truncate(0); err != nil {
		return nil, 0, err
	}
	if _, err := sp.f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}

	zw := zip.NewWriter(sp.f)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, sp.level)
	})
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return nil, 0, err
	}
	if err := zw.Close(); err != nil {
		return nil, 0, err
	}

	size, err := sp.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, err
	}
	zr, err := zip.NewReader(sp.f, size)
	if err != nil {
		return nil, 0, err
	}
	if len(zr.File) != 1 {
		return nil, 0, fmt.Errorf("staged %d entries, want 1", len(zr.File))
	}
	return zr.File[0], n, nil
}

func (sp *entrySpill) Close() error {
	err := sp.f.Close()
	if rerr := os.Remove(sp.f.Name()); err == nil {
		err = rerr
	}
	return err
}

func (s *Impl) mirror(ctx context.Context, src string, info fs.FileInfo, dst, name string) (*models.ArchiveResult, error) {
	root, err := mkdirUnique(dst, name)
	if err != nil {
		return nil, fmt.Errorf("creating mirror directory: %w", err)
	}
	result := &models.ArchiveResult{ArtifactPath: root}

	copyOne := func(file, target string, fi fs.FileInfo) {
		n, err := s.copyFile(file, target, fi)
		if err != nil {
			result.ItemErrors = append(result.ItemErrors, models.ItemError{Path: file, Err: err})
			return
		}
		result.FilesWritten++
		result.BytesWritten += n
	}

	if !info.IsDir() {
		copyOne(src, filepath.Join(root, filepath.Base(src)), info)
		return result, nil
	}

	err = s.walk(ctx, src, root, result, func(file, rel string, d fs.DirEntry, fi fs.FileInfo) error {
		target := filepath.Join(root, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, fi.Mode().Perm()|0o700); err != nil {
				result.ItemErrors = append(result.ItemErrors, models.ItemError{Path: file, Err: err})
				return fs.SkipDir
			}
			return nil
		}
		copyOne(file, target, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// copyFile copies file to target. On any failure the target is removed so
// a skipped file never leaves a partial copy behind.
func (s *Impl) copyFile(file, target string, fi fs.FileInfo) (n int64, err error) {
	r, err := s.opener.Open(file)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	w, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fi.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(target)
		}
	}()

	n, err = io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, err
	}
	_ = w.Sync()
	if err := w.Close(); err != nil {
		return 0, err
	}

	// OpenFile honours the umask; restore the source bits explicitly.
	if err := os.Chmod(target, fi.Mode().Perm()); err != nil {
		return 0, err
	}
	if err := os.Chtimes(target, fi.ModTime(), fi.ModTime()); err != nil {
		return 0, err
	}
	return n, nil
}

type visitFunc func(file, rel string, d fs.DirEntry, fi fs.FileInfo) error

// walk visits every directory and regular file below root, skipping the
// artifact under construction. Unreadable entries are recorded as item
// errors; only cancellation or an unreadable root aborts the walk.
func (s *Impl) walk(ctx context.Context, root, artifact string, result *models.ArchiveResult, visit visitFunc) error {
	return filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if file == root {
				return fmt.Errorf("reading source %s: %w", root, err)
			}
			result.ItemErrors = append(result.ItemErrors, models.ItemError{Path: file, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if file == artifact {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if file == root {
			return nil
		}

		rel, err := filepath.Rel(root, file)
		if err != nil {
			result.ItemErrors = append(result.ItemErrors, models.ItemError{Path: file, Err: err})
			return nil
		}

		fi, err := resolveEntry(file, d)
		if err != nil {
			result.ItemErrors = append(result.ItemErrors, models.ItemError{Path: file, Err: err})
			return nil
		}
		if fi == nil {
			s.logger.Debug().Str("path", file).Msg("ignoring special file")
			return nil
		}

		if fi.IsDir() && !d.IsDir() {
			// Symlinked directories are not followed.
			s.logger.Debug().Str("path", file).Msg("ignoring symlinked directory")
			return nil
		}
		return visit(file, rel, d, fi)
	})
}

// resolveEntry returns the file info to archive for d, following symlinks.
// It returns nil for sockets, devices and pipes.
func resolveEntry(file string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return os.Stat(file)
	}
	fi, err := d.Info()
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() && !fi.Mode().IsRegular() {
		return nil, nil //nolint:nilnil // nil info marks an ignorable entry
	}
	return fi, nil
}

// createUnique creates dir/name+ext, appending a counter when a previous
// run in the same second already produced that name.
func createUnique(dir, name, ext string) (*os.File, string, error) {
	for i := 1; ; i++ {
		path := filepath.Join(dir, uniqueName(name, i)+ext)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
}

func mkdirUnique(dir, name string) (string, error) {
	for i := 1; ; i++ {
		path := filepath.Join(dir, uniqueName(name, i))
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
}

func uniqueName(name string, i int) string {
	if i == 1 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, i)
}
