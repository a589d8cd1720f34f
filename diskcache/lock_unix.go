// Copyright (C) 2026 pixlru Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux || darwin || freebsd || netbsd || openbsd
// +build linux darwin freebsd netbsd openbsd

package diskcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// dirLock is an advisory, best-effort guard that a single *Cache (and,
// on platforms supporting flock, a single process) owns a cache
// directory at a time. Sharing one cache directory across processes
// remains unsupported; the lock only turns an otherwise-silent race
// into an attributable Busy error where the platform lets us detect
// it.
type dirLock struct {
	f *os.File
}

func lockDir(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dir+string(os.PathSeparator)+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, err
	}
	return &dirLock{f: f}, nil
}

func (d *dirLock) unlock() {
	if d == nil || d.f == nil {
		return
	}
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	d.f.Close()
}
