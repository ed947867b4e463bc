package ingest

import (
	"os"
	"syscall"
	"time"
)

// statTimes extracts mtime/atime/ctime from the platform stat structure.
func statTimes(fi os.FileInfo) (mtime, atime, ctime time.Time) {
	mtime = fi.ModTime()
	atime, ctime = mtime, mtime
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		atime = time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec)
		ctime = time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec)
	}
	return mtime, atime, ctime
}
