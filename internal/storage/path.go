package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildTraceArchivePath places a trace batch under a date partition so
// the archive stays listable as it grows. The extension follows the
// encoding format.
func BuildTraceArchivePath(sessionID string, batch int, flushedAt time.Time, format string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if batch < 0 {
		return "", fmt.Errorf("batch must be >= 0")
	}
	var ext string
	switch format {
	case "parquet":
		ext = "parquet"
	case "json":
		ext = "json"
	default:
		return "", fmt.Errorf("unsupported archive format: %q", format)
	}

	ts := flushedAt.UTC()
	return path.Join(
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("run-%s-%05d.%s", sessionID, batch, ext),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
