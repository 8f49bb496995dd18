// Package strata is a Go binding for the Strata embedded database engine.
//
// The native library is loaded dynamically at runtime via purego, so the
// package builds without cgo. The library is resolved from, in order, the
// STRATA_LIBRARY environment variable (full path), the directories listed in
// STRATA_LIBRARY_PATH, and the system loader's default search paths.
package strata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	loadOnce sync.Once
	loadErr  error
)

// InitLibrary locates and loads the native engine library and registers its
// exported functions. It runs at most once per process; Open and Setup call
// it implicitly, so calling it directly is only needed to surface load errors
// early.
func InitLibrary() error {
	loadOnce.Do(func() {
		handle, err := loadLibrary("strata")
		if err != nil {
			loadErr = err
			return
		}
		loadErr = register_strata_db(handle)
	})
	return loadErr
}

// Setup runs global engine configuration (logger callback and log level).
func Setup(config StrataConfig) error {
	if err := InitLibrary(); err != nil {
		return err
	}
	return strata_setup(config)
}

func libraryFileName(name string) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return fmt.Sprintf("lib%s.dylib", name), nil
	case "linux", "freebsd":
		return fmt.Sprintf("lib%s.so", name), nil
	default:
		return "", fmt.Errorf("strata: unsupported operating system %s", runtime.GOOS)
	}
}

func loadLibrary(name string) (uintptr, error) {
	libName, err := libraryFileName(name)
	if err != nil {
		return 0, err
	}

	var candidates []string
	if p := os.Getenv("STRATA_LIBRARY"); p != "" {
		candidates = append(candidates, p)
	}
	if dirs := os.Getenv("STRATA_LIBRARY_PATH"); dirs != "" {
		for _, dir := range strings.Split(dirs, string(os.PathListSeparator)) {
			if dir != "" {
				candidates = append(candidates, filepath.Join(dir, libName))
			}
		}
	}
	// Bare name last: lets the system loader search its default paths.
	candidates = append(candidates, libName)

	var errs []error
	for _, path := range candidates {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
	}
	return 0, fmt.Errorf("strata: unable to load native library: %w", errors.Join(errs...))
}
