package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"gitlab.bluewillows.net/root/hostdeploy/internal/local"
	"gitlab.bluewillows.net/root/hostdeploy/internal/metrics"
)

// UploadFile copies pair's local file to its remote path, creating missing
// remote parent directories.
func (s *Session) UploadFile(ctx context.Context, pair local.FilePair) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.narrate("uploading",
		slog.String("file", filepath.Base(pair.LocalPath)),
		slog.String("remote", pair.RemotePath),
	)

	f, err := os.Open(pair.LocalPath)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", pair.LocalPath, err)
	}
	defer func() { _ = f.Close() }()

	n, err := s.writeRemote(ctx, pair.RemotePath, f)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", pair, err)
	}

	metrics.FilesUploadedTotal.Inc()
	metrics.BytesUploadedTotal.Add(float64(n))

	return nil
}

// UploadIfRequired uploads pair and tracks its hash unless the tracked hash
// already matches the local file. It reports whether an upload happened.
func (s *Session) UploadIfRequired(ctx context.Context, pair local.FilePair) (bool, error) {
	match, sum, err := s.compare(pair)
	if err != nil {
		return false, err
	}
	if match {
		s.logger.Debug("unchanged, skipping upload", slog.String("remote", pair.RemotePath))
		metrics.FilesUnchangedTotal.Inc()
		return false, nil
	}

	if err := s.UploadFile(ctx, pair); err != nil {
		return false, err
	}

	return true, s.track(pair.RemotePath, sum)
}

// writeRemote writes src to remotePath. When the parent directory is
// missing it bootstraps the directory chain and retries once.
func (s *Session) writeRemote(ctx context.Context, remotePath string, src io.ReadSeeker) (int64, error) {
	n, err := s.copyTo(remotePath, src)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return n, err
	}

	s.logger.Debug("remote directory missing, bootstrapping",
		slog.String("dir", path.Dir(remotePath)),
	)

	if err := s.bootstrap(ctx, path.Dir(remotePath)); err != nil {
		return 0, err
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding source: %w", err)
	}

	return s.copyTo(remotePath, src)
}

func (s *Session) copyTo(remotePath string, src io.Reader) (int64, error) {
	w, err := s.files.Create(remotePath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, src)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", remotePath, err)
	}

	return n, nil
}

// DownloadFile copies pair's remote file over its local path. The data is
// written to a temporary file next to the target and renamed into place, so
// a failed download leaves the target untouched.
func (s *Session) DownloadFile(ctx context.Context, pair local.FilePair) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.narrate("downloading",
		slog.String("remote", pair.RemotePath),
		slog.String("local", pair.LocalPath),
	)

	src, err := s.files.Open(pair.RemotePath)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", pair.RemotePath, err)
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(pair.LocalPath), "."+filepath.Base(pair.LocalPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("downloading %s: %w", pair.RemotePath, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, src); err != nil {
		return fmt.Errorf("downloading %s: %w", pair.RemotePath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("downloading %s: %w", pair.RemotePath, err)
	}
	if err = os.Rename(tmp.Name(), pair.LocalPath); err != nil {
		return fmt.Errorf("replacing %s: %w", pair.LocalPath, err)
	}

	return nil
}

// DeleteFile removes a remote file.
func (s *Session) DeleteFile(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.narrate("deleting", slog.String("path", remotePath))

	err := s.files.Remove(remotePath)
	metrics.FilesDeletedTotal.WithLabelValues(deleteOutcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", remotePath, err)
	}
	return nil
}
