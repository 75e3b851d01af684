package session

import (
	"context"
	"sort"
	"sync"

	"github.com/forest6511/cyfer/pkg/bridge"
)

// fakeBridge is an in-memory engine that records every call.
type fakeBridge struct {
	mu       sync.Mutex
	exists   bool
	password string
	entries  map[string]bridge.SecretBundle
	calls    []string
	// fail makes the named call return the error once set.
	fail map[string]error

	// When gate is set each call announces itself on entered and then
	// waits for a value on gate.
	gate    chan struct{}
	entered chan string
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		entries: map[string]bridge.SecretBundle{},
		fail:    map[string]error{},
	}
}

// withVault returns a fake holding a vault with the given entries.
func withVault(password string, names ...string) *fakeBridge {
	f := newFakeBridge()
	f.exists = true
	f.password = password
	for _, n := range names {
		f.entries[n] = bridge.SecretBundle{Username: n + "-user", Secret: n + "-secret"}
	}
	return f
}

func (f *fakeBridge) failWith(call, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[call] = &bridge.Error{Call: call, Code: code, Message: "injected"}
}

func (f *fakeBridge) clearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = map[string]error{}
}

func (f *fakeBridge) block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan string, 8)
}

// unblock releases every waiting call and stops gating new ones.
func (f *fakeBridge) unblock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
	}
	f.gate, f.entered = nil, nil
}

func (f *fakeBridge) hasEntry(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[name]
	return ok
}

func (f *fakeBridge) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBridge) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// enter records call and returns its injected failure, if any.
func (f *fakeBridge) enter(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	err := f.fail[call]
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		entered <- call
		<-gate
	}
	return err
}

func (f *fakeBridge) authorize(call, pw string) error {
	if !f.exists {
		return &bridge.Error{Call: call, Code: bridge.CodeNotFound, Message: "no vault"}
	}
	if pw != f.password {
		return &bridge.Error{Call: call, Code: bridge.CodeUnauthorized, Message: "bad password"}
	}
	return nil
}

func (f *fakeBridge) VaultExists(context.Context) (bool, error) {
	if err := f.enter(bridge.CallVaultExists); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeBridge) CreateVault(_ context.Context, pw string) error {
	if err := f.enter(bridge.CallCreateVault); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exists {
		return &bridge.Error{Call: bridge.CallCreateVault, Code: bridge.CodeExists}
	}
	f.exists = true
	f.password = pw
	return nil
}

func (f *fakeBridge) VerifyCredential(_ context.Context, pw string) (bool, error) {
	if err := f.enter(bridge.CallVerifyCredential); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists && pw == f.password, nil
}

func (f *fakeBridge) ListEntries(_ context.Context, pw string) ([]string, error) {
	if err := f.enter(bridge.CallListEntries); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(bridge.CallListEntries, pw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.entries))
	for n := range f.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeBridge) FetchEntry(_ context.Context, pw, service string) (bridge.SecretBundle, error) {
	if err := f.enter(bridge.CallFetchEntry); err != nil {
		return bridge.SecretBundle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(bridge.CallFetchEntry, pw); err != nil {
		return bridge.SecretBundle{}, err
	}
	b, ok := f.entries[service]
	if !ok {
		return bridge.SecretBundle{}, &bridge.Error{Call: bridge.CallFetchEntry, Code: bridge.CodeNotFound}
	}
	return b, nil
}

func (f *fakeBridge) AddEntry(_ context.Context, pw, service string, b bridge.SecretBundle) error {
	if err := f.enter(bridge.CallAddEntry); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(bridge.CallAddEntry, pw); err != nil {
		return err
	}
	if _, ok := f.entries[service]; ok {
		return &bridge.Error{Call: bridge.CallAddEntry, Code: bridge.CodeExists}
	}
	f.entries[service] = b
	return nil
}

func (f *fakeBridge) DeleteEntry(_ context.Context, pw, service string) error {
	if err := f.enter(bridge.CallDeleteEntry); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.authorize(bridge.CallDeleteEntry, pw); err != nil {
		return err
	}
	if _, ok := f.entries[service]; !ok {
		return &bridge.Error{Call: bridge.CallDeleteEntry, Code: bridge.CodeNotFound}
	}
	delete(f.entries, service)
	return nil
}
