//go:build !unix && !windows

package lockfile

import "os"

// Platforms without file locking run single-process.
func flockExclusive(f *os.File) error { return nil }

func funlock(f *os.File) error { return nil }
