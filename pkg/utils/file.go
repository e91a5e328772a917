package utils

import "os"

// WriteFileWithOwnership writes a file and fixes ownership when running with sudo.
func WriteFileWithOwnership(path string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(path, data, perm); err != nil {
		return err
	}
	return FixFileOwnership(path)
}

// MkdirAllWithOwnership creates a directory (and parents) and fixes ownership when running with sudo.
func MkdirAllWithOwnership(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}
	return FixFileOwnership(path)
}
