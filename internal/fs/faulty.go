package fs

import (
	"errors"
	"os"
	"sync"
)

// Op names an [FS] method for fault injection.
type Op string

// Operations that [Faulty] can fail.
const (
	OpOpenFile        Op = "OpenFile"
	OpReadFile        Op = "ReadFile"
	OpWriteFileAtomic Op = "WriteFileAtomic"
	OpReadDir         Op = "ReadDir"
	OpMkdirAll        Op = "MkdirAll"
	OpStat            Op = "Stat"
	OpRemove          Op = "Remove"
)

// ErrInjected is the default error returned by a [Faulty] rule.
var ErrInjected = errors.New("injected fault")

// Faulty wraps an [FS] and fails operations matching registered rules.
// It is safe for concurrent use.
type Faulty struct {
	fs    FS
	mu    sync.Mutex
	rules []faultRule
	calls map[Op]int
}

type faultRule struct {
	op    Op
	match func(path string) bool
	err   error
}

// NewFaulty wraps fs. Without rules it behaves exactly like fs.
func NewFaulty(fs FS) *Faulty {
	return &Faulty{fs: fs, calls: make(map[Op]int)}
}

// FailOn makes op fail with err for every path accepted by match. A nil match
// accepts all paths; a nil err means [ErrInjected].
func (f *Faulty) FailOn(op Op, match func(path string) bool, err error) {
	if err == nil {
		err = ErrInjected
	}

	if match == nil {
		match = func(string) bool { return true }
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, faultRule{op: op, match: match, err: err})
}

// Calls returns how many times op was invoked, including failed calls.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *Faulty) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++

	for _, r := range f.rules {
		if r.op == op && r.match(path) {
			return &os.PathError{Op: string(op), Path: path, Err: r.err}
		}
	}

	return nil
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.check(OpOpenFile, path); err != nil {
		return nil, err
	}

	return f.fs.OpenFile(path, flag, perm)
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.check(OpReadFile, path); err != nil {
		return nil, err
	}

	return f.fs.ReadFile(path)
}

func (f *Faulty) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := f.check(OpWriteFileAtomic, path); err != nil {
		return err
	}

	return f.fs.WriteFileAtomic(path, data, perm)
}

func (f *Faulty) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.check(OpReadDir, path); err != nil {
		return nil, err
	}

	return f.fs.ReadDir(path)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	if err := f.check(OpMkdirAll, path); err != nil {
		return err
	}

	return f.fs.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	if err := f.check(OpStat, path); err != nil {
		return nil, err
	}

	return f.fs.Stat(path)
}

func (f *Faulty) Exists(path string) (bool, error) {
	if err := f.check(OpStat, path); err != nil {
		return false, err
	}

	return f.fs.Exists(path)
}

func (f *Faulty) Remove(path string) error {
	if err := f.check(OpRemove, path); err != nil {
		return err
	}

	return f.fs.Remove(path)
}
