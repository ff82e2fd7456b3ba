package resolver

import (
	"strings"
)

// mergeableExtensions is the text-file allow-list that qualifies a conflict
// for a three-pane merge instead of a plain USE_LOCAL/USE_SERVER choice
// (spec.md §4.10).
var mergeableExtensions = map[string]bool{
	".txt": true, ".md": true, ".java": true, ".py": true, ".js": true, ".ts": true,
	".html": true, ".css": true, ".xml": true, ".json": true, ".yml": true, ".yaml": true,
	".properties": true, ".cfg": true, ".conf": true, ".log": true, ".sql": true,
	".sh": true, ".bat": true, ".csv": true, ".ini": true, ".gitignore": true,
	".dockerfile": true, ".gradle": true, ".maven": true, ".rb": true, ".php": true,
	".go": true, ".rs": true, ".cpp": true, ".c": true, ".h": true, ".hpp": true,
	".cs": true, ".vb": true, ".scala": true, ".kt": true,
}

// smallDocExtensions is the heuristic set for rich-text formats that are
// merge-eligible only below a size threshold (spec.md §4.10: "a heuristic
// for small RTF/ODT").
var smallDocExtensions = map[string]bool{
	".rtf": true, ".odt": true,
}

// smallDocSizeThreshold bounds the "small" heuristic for RTF/ODT files.
const smallDocSizeThreshold = 256 * 1024

// IsMergeable reports whether a conflicting file qualifies for a three-pane
// text merge rather than a binary USE_LOCAL/USE_SERVER choice.
func IsMergeable(path string, size int64) bool {
	ext := extensionOf(path)

	if mergeableExtensions[ext] {
		return true
	}

	return smallDocExtensions[ext] && size <= smallDocSizeThreshold
}

func extensionOf(path string) string {
	base := path
	if slash := strings.LastIndexAny(base, "/\\"); slash >= 0 {
		base = base[slash+1:]
	}

	if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
		return strings.ToLower(base[idx:])
	}

	// No dot at all (e.g. a bare "Dockerfile"): treat the whole lowercased
	// name as the lookup key so it still matches the allow-list.
	return "." + strings.ToLower(base)
}
