//go:build !unix && !windows

package codebuf

import "errors"

var errNoMmap = errors.New("executable memory is not supported on this platform")

func mapMemory(int) ([]byte, error) { return nil, errNoMmap }

func protect([]byte, Protection) error { return errNoMmap }

func unmapMemory([]byte) error { return errNoMmap }

func baseOf([]byte) uintptr { return 0 }
