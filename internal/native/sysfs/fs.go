package sysfs

import (
	"errors"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// maxLinkHops bounds symlink resolution; sysfs never chains more than a
// couple of links.
const maxLinkHops = 8

var errNoLinks = errors.New("sysfs: filesystem cannot read symlinks")

func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fs.Stat(name)
}

func readlink(fs afero.Fs, name string) (string, error) {
	if l, ok := fs.(afero.LinkReader); ok {
		return l.ReadlinkIfPossible(name)
	}
	return "", &os.PathError{Op: "readlink", Path: name, Err: errNoLinks}
}

// linkBase returns the last element of the target of the link at name.
func linkBase(fs afero.Fs, name string) string {
	target, err := readlink(fs, name)
	if err != nil {
		return ""
	}
	return path.Base(target)
}

// resolveLink returns the canonical form of p: every symlink on the way,
// not only the last element, is replaced by its target. Relative targets
// are resolved against the directory holding the link.
func resolveLink(fs afero.Fs, p string) (string, error) {
	hops := 0
	return realPath(fs, path.Clean(p), &hops)
}

func realPath(fs afero.Fs, p string, hops *int) (string, error) {
	cur := "/"
	for _, elem := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if elem == "" {
			continue
		}
		next := path.Join(cur, elem)
		info, err := lstat(fs, next)
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}
		*hops++
		if *hops > maxLinkHops {
			return "", &os.PathError{Op: "resolve", Path: p, Err: errors.New("too many levels of symbolic links")}
		}
		target, err := readlink(fs, next)
		if err != nil {
			return "", err
		}
		if !path.IsAbs(target) {
			target = path.Join(cur, target)
		}
		cur, err = realPath(fs, path.Clean(target), hops)
		if err != nil {
			return "", err
		}
	}
	return cur, nil
}

func readTrimmed(fs afero.Fs, name string) (string, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), " \t\r\n"), nil
}

// readKeyValues parses KEY=VALUE lines, ignoring anything else.
func readKeyValues(fs afero.Fs, name string) (map[string]string, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, err
	}
	res := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			continue
		}
		res[key] = value
	}
	return res, nil
}
