package local

import (
	"errors"
	"fmt"
	"os"
)

// ReadFile returns the contents of a local file as text.
func ReadFile(name string) (string, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

// WriteFile creates or truncates name and writes text to it.
func WriteFile(name, text string) error {
	if err := os.WriteFile(name, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// AppendFile appends text to name, creating it if needed.
func AppendFile(name, text string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}

	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending to %s: %w", name, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	return nil
}

// DeleteFile removes name. A missing file is not an error.
func DeleteFile(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name exists and is a regular file.
func Exists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}
