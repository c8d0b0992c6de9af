package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveDestinationPath resolves the destination directory, validating it exists or can be created
func ResolveDestinationPath(destPath string) (string, error) {
	// Check if the path exists and is a directory
	if info, err := os.Stat(destPath); err == nil {
		if info.IsDir() {
			// Valid directory - return as is (filenames come from metadata)
			return destPath, nil
		}
		return "", fmt.Errorf("destination path '%s' exists but is not a directory", destPath)
	} else if os.IsNotExist(err) {
		dir := filepath.Dir(destPath)
		if info, dirErr := os.Stat(dir); dirErr == nil && info.IsDir() {
			// Parent exists - destPath will be created when the first file arrives
			return destPath, nil
		}
		return "", fmt.Errorf("parent directory does not exist: %s", dir)
	} else {
		return "", fmt.Errorf("cannot access destination path: %w", err)
	}
}

// FormatFileSize renders a byte count using binary units
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}

// FormatThroughput renders a bytes-per-second rate
func FormatThroughput(bytesPerSecond float64) string {
	return fmt.Sprintf("%s/s", FormatFileSize(int64(bytesPerSecond)))
}
