package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"gitlab.bluewillows.net/root/hostdeploy/internal/local"
	"gitlab.bluewillows.net/root/hostdeploy/internal/metrics"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/hashlist"
)

// SetHashlistPath loads the hashlist stored at path on the remote host and
// records path for PersistHashlist. A missing or unreadable hashlist is
// replaced by an empty one.
func (s *Session) SetHashlistPath(_ context.Context, path string) {
	s.narrate("downloading hashlist", slog.String("path", path))

	store, err := s.loadHashlist(path)
	if err != nil {
		s.logger.Warn("no valid hashlist found, starting with an empty one",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		store = hashlist.New()
		metrics.HashlistLoadsTotal.WithLabelValues(metrics.HashlistEmpty).Inc()
	} else {
		s.narrate("hashlist loaded",
			slog.String("path", path),
			slog.Int("entries", store.Len()),
		)
		metrics.HashlistLoadsTotal.WithLabelValues(metrics.HashlistLoaded).Inc()
	}

	s.store = store
	s.hashlistPath = path
	s.dirty = false
}

func (s *Session) loadHashlist(path string) (*hashlist.Store, error) {
	r, err := s.files.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return hashlist.Load(data)
}

// UpdateHashlist records the current hash of pair's local file under its
// remote path.
func (s *Session) UpdateHashlist(pair local.FilePair) error {
	sum, err := hashlist.HashFile(pair.LocalPath)
	if err != nil {
		return err
	}
	return s.track(pair.RemotePath, sum)
}

func (s *Session) track(remotePath string, sum []byte) error {
	if err := s.store.Update(remotePath, sum); err != nil {
		return fmt.Errorf("tracking %s: %w", remotePath, err)
	}
	s.dirty = true
	return nil
}

// MatchesHashlist reports whether pair's local file hashes to the value
// tracked for its remote path. Untracked paths never match.
func (s *Session) MatchesHashlist(pair local.FilePair) (bool, error) {
	if _, ok := s.store.Get(pair.RemotePath); !ok {
		return false, nil
	}
	match, _, err := s.compare(pair)
	return match, err
}

// compare hashes the local file once and returns the hash for reuse.
func (s *Session) compare(pair local.FilePair) (bool, []byte, error) {
	sum, err := hashlist.HashFile(pair.LocalPath)
	if err != nil {
		return false, nil, err
	}

	tracked, ok := s.store.Get(pair.RemotePath)
	if !ok {
		return false, sum, nil
	}

	return hashlist.Equal(tracked, sum), sum, nil
}

// PurgeHashlist deletes every tracked remote file whose path is not in keep
// and stops tracking it. Delete failures are logged and do not stop the
// purge; files already gone are not failures.
func (s *Session) PurgeHashlist(ctx context.Context, keep []local.FilePair) error {
	keepSet := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		keepSet[p.RemotePath] = struct{}{}
	}

	var stale []string
	for _, path := range s.store.Keys() {
		if _, ok := keepSet[path]; !ok {
			stale = append(stale, path)
		}
	}

	s.narrate("purging stale files", slog.Int("count", len(stale)))

	failed := 0
	for _, path := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.narrate("deleting", slog.String("path", path))
		if s.removeRemote(path) == metrics.DeleteFailed {
			failed++
		}

		s.store.Remove(path)
		s.dirty = true
	}

	if failed > 0 {
		s.logger.Warn("purge could not delete some remote files",
			slog.Int("failed", failed),
		)
	}

	return nil
}

// removeRemote deletes path and classifies the outcome.
func (s *Session) removeRemote(path string) string {
	err := s.files.Remove(path)

	outcome := deleteOutcome(err)
	switch outcome {
	case metrics.DeleteNotFound:
		s.logger.Debug("remote file already absent", slog.String("path", path))
	case metrics.DeleteFailed:
		s.logger.Warn("failed to delete remote file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}

	metrics.FilesDeletedTotal.WithLabelValues(outcome).Inc()
	return outcome
}

// deleteOutcome separates "already gone" from real delete failures.
func deleteOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.DeleteRemoved
	case errors.Is(err, fs.ErrNotExist):
		return metrics.DeleteNotFound
	default:
		return metrics.DeleteFailed
	}
}

// PersistHashlist uploads the hashlist to its recorded path if it changed
// since it was loaded.
func (s *Session) PersistHashlist(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	if s.hashlistPath == "" {
		s.logger.Debug("hashlist changed but no path set, not persisting")
		return nil
	}

	s.narrate("uploading hashlist",
		slog.String("path", s.hashlistPath),
		slog.Int("entries", s.store.Len()),
	)

	if _, err := s.writeRemote(ctx, s.hashlistPath, bytes.NewReader(s.store.Serialize())); err != nil {
		return fmt.Errorf("persisting hashlist: %w", err)
	}

	s.dirty = false
	return nil
}
