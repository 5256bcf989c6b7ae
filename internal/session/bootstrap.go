package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"gitlab.bluewillows.net/root/hostdeploy/internal/metrics"
)

type mkdirResult int

const (
	dirCreated mkdirResult = iota
	dirExists
	parentMissing
)

// bootstrap creates every missing directory in the chain leading to dir
// using only single-level creates.
//
// Phase one walks from the deepest level toward the root until a create
// succeeds or hits an existing directory. Phase two creates each deeper
// level in order. With k missing levels this issues k-1 failed probes and
// k creates.
func (s *Session) bootstrap(ctx context.Context, dir string) error {
	levels := dirChain(dir)
	if len(levels) == 0 {
		return fmt.Errorf("%w: %q has no directory to create", ErrBootstrap, dir)
	}

	found, err := s.deepestExisting(ctx, levels)
	if err != nil {
		return err
	}

	for _, p := range levels[found+1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A vanished parent here means a concurrent delete; the retried
		// upload reports it.
		if _, err := s.mkdir(p); err != nil {
			return err
		}
	}

	return nil
}

// deepestExisting returns the index of the deepest level that exists after
// probing, creating it if its parent existed.
func (s *Session) deepestExisting(ctx context.Context, levels []string) (int, error) {
	for i := len(levels) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		result, err := s.mkdir(levels[i])
		if err != nil {
			return 0, err
		}
		if result != parentMissing {
			return i, nil
		}
	}

	return 0, fmt.Errorf("%w: no ancestor of %s could be created", ErrBootstrap, levels[len(levels)-1])
}

// mkdir creates one directory and classifies the outcome. A failure that is
// not "parent missing" is resolved with a single Stat: an existing
// directory counts as success, anything else is fatal.
func (s *Session) mkdir(p string) (mkdirResult, error) {
	err := s.files.Mkdir(p)
	if err == nil {
		s.logger.Debug("created remote directory", slog.String("path", p))
		metrics.DirectoriesCreatedTotal.Inc()
		return dirCreated, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return parentMissing, nil
	}

	info, statErr := s.files.Stat(p)
	if statErr == nil && info.IsDir() {
		return dirExists, nil
	}

	return 0, fmt.Errorf("%w: %w", ErrBootstrap, err)
}

// dirChain returns the directory prefixes of dir, shallowest first.
// Absolute paths keep their leading slash: "/a/b" -> ["/a", "/a/b"];
// relative ones stay relative: "a/b" -> ["a", "a/b"].
func dirChain(dir string) []string {
	absolute := strings.HasPrefix(dir, "/")

	var (
		chain   []string
		current string
	)
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if current == "" && !absolute {
			current = seg
		} else {
			current += "/" + seg
		}
		chain = append(chain, current)
	}

	return chain
}
