package core

import (
	"os"
	"path/filepath"
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CollapseSpaces cleans `s` and replaces inner runs of whitespace by a single space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Pick returns the item of `list` equal to `value` under case folding.
func Pick(list []string, value string) (string, bool) {
	value = CollapseSpaces(value)
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return item, true
		}
	}
	return value, false
}

// Getwd tries to find the project root (the directory holding go.mod).
// go-test changes the working directory to the test package being run during tests,
// so we walk up until we find it. Falls back to the current directory (e.g. in a container without sources).
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}
