package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writePolicy(t *testing.T, dir, content string, perm os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, PolicyFileName)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	// WriteFile is subject to umask
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("failed to chmod policy file: %v", err)
	}
}

func TestLoadPolicy_NotFound(t *testing.T) {
	_, err := LoadPolicy(t.TempDir())
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestLoadPolicy_Success(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, `version: 1
allow_write: false
deny_fetch:
  - "prod-*"
  - bank
`, 0600)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}
	if policy.Version != 1 {
		t.Errorf("expected version 1, got %d", policy.Version)
	}
	if policy.WriteAllowed() {
		t.Error("expected writes to be denied")
	}
	if len(policy.DenyFetch) != 2 {
		t.Errorf("expected 2 deny patterns, got %d", len(policy.DenyFetch))
	}
}

func TestLoadPolicy_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 1\n", 0644)

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicyInsecure) {
		t.Errorf("expected ErrPolicyInsecure, got %v", err)
	}
}

func TestLoadPolicy_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: [1\n", 0600)

	if _, err := LoadPolicy(tmpDir); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadPolicy_UnsupportedVersion(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 2\n", 0600)

	if _, err := LoadPolicy(tmpDir); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadPolicy_BadPattern(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 1\ndeny_fetch: [\"[\"]\n", 0600)

	if _, err := LoadPolicy(tmpDir); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestLoadPolicy_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink rejection is unix only")
	}
	tmpDir := t.TempDir()

	realPath := filepath.Join(tmpDir, "real-policy.yaml")
	if err := os.WriteFile(realPath, []byte("version: 1\n"), 0600); err != nil {
		t.Fatalf("failed to write real policy file: %v", err)
	}
	if err := os.Symlink(realPath, filepath.Join(tmpDir, PolicyFileName)); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicySymlink) {
		t.Errorf("expected ErrPolicySymlink, got %v", err)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if !p.WriteAllowed() {
		t.Error("default policy should allow writes")
	}
	if ok, _ := p.FetchAllowed("anything"); !ok {
		t.Error("default policy should allow fetches")
	}
}

func TestFetchAllowed(t *testing.T) {
	p := &Policy{Version: 1, DenyFetch: []string{"prod-*", "bank"}}

	tests := []struct {
		service string
		want    bool
	}{
		{"prod-db", false},
		{"prod-", false},
		{"bank", false},
		{"banking", true},
		{"staging-db", true},
		{"Prod-db", true},
	}
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			got, reason := p.FetchAllowed(tt.service)
			if got != tt.want {
				t.Errorf("FetchAllowed(%q) = %v, want %v", tt.service, got, tt.want)
			}
			if !got && reason == "" {
				t.Error("expected a reason for denial")
			}
		})
	}
}

func TestWriteAllowed(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name  string
		allow *bool
		want  bool
	}{
		{"unset", nil, true},
		{"true", &yes, true},
		{"false", &no, false},
	}
	for _, tt := range tests {
		p := &Policy{Version: 1, AllowWrite: tt.allow}
		if got := p.WriteAllowed(); got != tt.want {
			t.Errorf("%s: WriteAllowed() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
