//go:build linux || darwin || freebsd || netbsd || openbsd

package archive

import "golang.org/x/sys/unix"

// flushFilesystem asks the kernel to write dirty buffers to disk.
func flushFilesystem() {
	unix.Sync()
}
