package logsink

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// maxContextLen bounds the working-directory slug inside log filenames
// so generated names stay well under platform filename limits.
const maxContextLen = 40

// ContextSlug derives the filename fragment from a working directory:
// the basename with every non-alphanumeric character replaced by '_',
// truncated to maxContextLen.
func ContextSlug(workingDir string) string {
	base := filepath.Base(filepath.Clean(workingDir))
	if base == "." || base == string(filepath.Separator) {
		base = "root"
	}
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	slug := b.String()
	if len(slug) > maxContextLen {
		slug = slug[:maxContextLen]
	}
	return slug
}

// TaskLogPaths returns the summary and detailed log paths for a task.
// Paths are computed once at insert time and never rewritten.
func TaskLogPaths(logDir string, taskID int64, workingDir string, now time.Time) (summary, detailed string) {
	stamp := now.UTC().Format("20060102_1504")
	slug := ContextSlug(workingDir)
	summary = filepath.Join(logDir, fmt.Sprintf("task_%d_%s_%s_summary.log", taskID, slug, stamp))
	detailed = filepath.Join(logDir, fmt.Sprintf("task_%d_%s_%s_detailed.log", taskID, slug, stamp))
	return summary, detailed
}
