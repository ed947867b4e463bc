//go:build !linux && !darwin

package ingest

import (
	"os"
	"time"
)

// statTimes falls back to mtime for all three timestamps on platforms without
// a usable stat structure.
func statTimes(fi os.FileInfo) (mtime, atime, ctime time.Time) {
	mtime = fi.ModTime()
	return mtime, mtime, mtime
}
