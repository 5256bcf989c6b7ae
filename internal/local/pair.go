// Package local provides the controller-side file operations used by
// deployment routines: file pairs, directory enumeration and simple file I/O.
package local

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNotDirectory is returned when Collect is given a local root that is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// FilePair binds a remote destination path to a local source path.
type FilePair struct {
	RemotePath string
	LocalPath  string
}

// NewFilePair returns the pair (remotePath, localPath).
func NewFilePair(remotePath, localPath string) FilePair {
	return FilePair{RemotePath: remotePath, LocalPath: localPath}
}

// String returns "local -> remote".
func (p FilePair) String() string {
	return p.LocalPath + " -> " + p.RemotePath
}

// Collect enumerates the regular files under localRoot breadth-first and
// pairs each with remoteRoot + "/" + its slash-separated relative path.
// Entries within a directory are visited in lexical order. Subdirectories
// are descended only when recursive is set. Paths matching an exclude
// pattern are skipped; an excluded directory is not descended. A symlinked
// directory that resolves to one of its own ancestors is not descended.
func Collect(remoteRoot, localRoot string, recursive bool, exclude []string) ([]FilePair, error) {
	root, err := filepath.Abs(localRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", localRoot, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("collecting %s: %w", localRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("collecting %s: %w", localRoot, ErrNotDirectory)
	}

	remoteRoot = strings.TrimRight(remoteRoot, "/")

	var (
		pairs   []FilePair
		pending = []pendingDir{{chain: []os.FileInfo{info}}}
	)
	for len(pending) > 0 {
		dir := pending[0]
		pending = pending[1:]
		rel := dir.rel

		entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", filepath.Join(root, rel), err)
		}

		var dirs []pendingDir
		for _, entry := range entries {
			entryRel := path.Join(rel, entry.Name())
			if isExcluded(entryRel, entry.IsDir(), exclude) {
				continue
			}

			localPath := filepath.Join(root, filepath.FromSlash(entryRel))
			isDir, isFile, err := classify(localPath, entry)
			if err != nil {
				return nil, err
			}

			switch {
			case isDir && recursive:
				dirInfo, err := os.Stat(localPath)
				if err != nil {
					return nil, fmt.Errorf("stat %s: %w", localPath, err)
				}
				if isAncestor(dir.chain, dirInfo) {
					continue
				}
				dirs = append(dirs, pendingDir{
					rel:   entryRel,
					chain: append(slices.Clip(dir.chain), dirInfo),
				})
			case isFile:
				pairs = append(pairs, FilePair{
					RemotePath: remoteRoot + "/" + entryRel,
					LocalPath:  localPath,
				})
			}
		}

		pending = append(pending, dirs...)
	}

	return pairs, nil
}

// pendingDir is a directory queued for Collect with the directories on
// its path from the root, root first.
type pendingDir struct {
	rel   string
	chain []os.FileInfo
}

func isAncestor(chain []os.FileInfo, dir os.FileInfo) bool {
	for _, a := range chain {
		if os.SameFile(a, dir) {
			return true
		}
	}
	return false
}

// classify resolves symlinks so linked files and directories are treated
// like their targets. Sockets, devices and broken links are neither.
func classify(localPath string, entry os.DirEntry) (isDir, isFile bool, err error) {
	mode := entry.Type()
	if mode&os.ModeSymlink != 0 {
		info, err := os.Stat(localPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, false, nil
			}
			return false, false, fmt.Errorf("stat %s: %w", localPath, err)
		}
		mode = info.Mode()
	}
	return mode.IsDir(), mode.IsRegular(), nil
}
