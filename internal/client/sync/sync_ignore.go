package sync

import (
	"bufio"
	"context"
	"log/slog"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/tunebox/tunesync/internal/client/workspace"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/utils"
)

var defaultIgnoreLines = []string{
	// tunesync
	workspace.IgnoreFileName,
	"*.tunesync-tmp",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*.tmp",
	"*.part",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon",
}

// SyncIgnoreList decides which relative paths never take part in a sync
type SyncIgnoreList struct {
	root     string
	registry *storage.Registry
	excludes []string
	ignore   *gitignore.GitIgnore
}

// NewSyncIgnoreList reads rules from <root>/.tunesyncignore. excludes are extra
// relative directories, such as a metadata dir that lives inside the root.
func NewSyncIgnoreList(registry *storage.Registry, root string, excludes ...string) *SyncIgnoreList {
	return &SyncIgnoreList{root: root, registry: registry, excludes: excludes}
}

func (s *SyncIgnoreList) Load(ctx context.Context) {
	ignoreLines := append([]string{}, defaultIgnoreLines...)
	for _, ex := range s.excludes {
		if ex = utils.NormRelPath(ex); ex != "" {
			ignoreLines = append(ignoreLines, "/"+ex+"/")
		}
	}

	ignorePath := s.registry.Join(s.root, workspace.IgnoreFileName)
	r, err := s.registry.OpenReader(ctx, ignorePath)
	switch {
	case storage.IsNotFound(err):
	case err != nil:
		slog.Warn("Failed to open ignore file", "path", ignorePath, "error", err)
	default:
		defer r.Close()
		rules := 0
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				ignoreLines = append(ignoreLines, line)
				rules++
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("Error reading ignore file", "path", ignorePath, "error", err)
		} else {
			slog.Info("Loaded ignore file", "path", ignorePath, "rules", rules)
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore matches a relative path. isDir lets directory-only rules match the directory itself.
func (s *SyncIgnoreList) ShouldIgnore(rel string, isDir bool) bool {
	if s.ignore == nil {
		return false
	}
	rel = utils.NormRelPath(rel)
	if rel == "" {
		return false
	}
	if isDir {
		return s.ignore.MatchesPath(rel + "/")
	}
	return s.ignore.MatchesPath(rel)
}
