package libhandle

import "sync"

// Fake is a test double for Opener that never touches the real OS loader,
// the same dependency-injection shape the teacher uses in loader_test.go
// (a mock Unix-socket server standing in for the real iOS simulator loader
// process) rather than exercising the platform-specific primitive directly.
type Fake struct {
	mu         sync.Mutex
	FailOpen   func(path string) error
	FailSymbol func(path, name string) error
	opened     []string
	closed     []string
}

// NewFakeOpener returns an Opener backed by f.
func (f *Fake) NewFakeOpener() Opener {
	return func(path string) (OSLibrary, error) {
		if f.FailOpen != nil {
			if err := f.FailOpen(path); err != nil {
				return nil, err
			}
		}
		f.mu.Lock()
		f.opened = append(f.opened, path)
		f.mu.Unlock()
		return &fakeLibrary{fake: f, path: path}, nil
	}
}

// Opened returns the paths passed to Opener in call order.
func (f *Fake) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Closed returns the paths whose OSLibrary.Close was called, in call order.
func (f *Fake) Closed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type fakeLibrary struct {
	fake *Fake
	path string
}

func (l *fakeLibrary) Symbol(name string) (uintptr, error) {
	if l.fake.FailSymbol != nil {
		if err := l.fake.FailSymbol(l.path, name); err != nil {
			return 0, err
		}
	}
	return 0x1, nil
}

func (l *fakeLibrary) Close() error {
	l.fake.mu.Lock()
	l.fake.closed = append(l.fake.closed, l.path)
	l.fake.mu.Unlock()
	return nil
}
