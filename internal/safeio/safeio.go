// Package safeio implements convenient I/O routines that provide additional
// levels of safety in the presence of unexpected failures.
package safeio

import (
	"os"
	"path"
	"syscall"
)

// FileOp is run against the temporary file's name after its contents are
// written but before it is renamed into place. If it returns an error, the
// temporary file is removed and WriteFile returns that error without
// touching filename.
type FileOp func(tmpFilename string) error

// WriteFile writes data to a file named by filename, atomically, by writing
// to a temporary file and renaming it at the end. Any ops are run against
// the temporary file's name before the rename, in order; the first failure
// aborts the write.
//
// Note this relies on same-directory Rename being atomic, which holds in most
// reasonably modern filesystems.
func WriteFile(filename string, data []byte, perm os.FileMode, ops ...FileOp) error {
	// Note we create the temporary file in the same directory, otherwise we
	// would have no expectation of Rename being atomic.
	// We make the file names start with "." so there's no confusion with the
	// originals.
	tmpf, err := os.CreateTemp(path.Dir(filename), "."+path.Base(filename))
	if err != nil {
		return err
	}
	tmpName := tmpf.Name()

	if err = tmpf.Chmod(perm); err != nil {
		tmpf.Close()
		os.Remove(tmpName)
		return err
	}

	if uid, gid := getOwner(filename); uid >= 0 {
		if err = tmpf.Chown(uid, gid); err != nil {
			tmpf.Close()
			os.Remove(tmpName)
			return err
		}
	}

	if _, err = tmpf.Write(data); err != nil {
		tmpf.Close()
		os.Remove(tmpName)
		return err
	}

	if err = tmpf.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	for _, op := range ops {
		if err = op(tmpName); err != nil {
			os.Remove(tmpName)
			return err
		}
	}

	return os.Rename(tmpName, filename)
}

func getOwner(fname string) (uid, gid int) {
	uid = -1
	gid = -1
	stat, err := os.Stat(fname)
	if err == nil {
		if sysstat, ok := stat.Sys().(*syscall.Stat_t); ok {
			uid = int(sysstat.Uid)
			gid = int(sysstat.Gid)
		}
	}

	return
}
