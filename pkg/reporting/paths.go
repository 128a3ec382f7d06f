package reporting

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultExportPath names the export file of a transition under dir
func DefaultExportPath(dir, name, ext string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		n = "unknown"
	}
	if len(n) > 8 {
		n = n[:8]
	}
	if dir == "" {
		dir = "results"
	}
	return filepath.Join(dir, fmt.Sprintf("transition_%s.%s", n, strings.TrimPrefix(ext, ".")))
}
