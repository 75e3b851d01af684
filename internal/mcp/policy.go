package mcp

import (
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Policy restricts what MCP clients may do with the engine. It lives next to
// the vault so only the vault owner can loosen it.
type Policy struct {
	Version int `yaml:"version"`
	// AllowWrite gates vault_create, entry_add and entry_delete. Nil means allowed.
	AllowWrite *bool `yaml:"allow_write"`
	// DenyFetch lists service name patterns (path.Match syntax) entry_fetch refuses.
	DenyFetch []string `yaml:"deny_fetch"`
}

// PolicyFileName is the name of the policy file
const PolicyFileName = "mcp-policy.yaml"

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("MCP policy file not found")

// ErrPolicyInsecure is returned when policy file has insecure permissions
var ErrPolicyInsecure = errors.New("MCP policy file has insecure permissions")

// ErrPolicySymlink is returned when policy file is a symlink
var ErrPolicySymlink = errors.New("MCP policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when policy file is not owned by current user
var ErrPolicyNotOwnedByUser = errors.New("MCP policy file not owned by current user")

// DefaultPolicy allows every call.
func DefaultPolicy() *Policy {
	return &Policy{Version: 1}
}

// LoadPolicy loads the MCP policy from the vault directory. The file is
// opened without following symlinks and checked through the open descriptor.
func LoadPolicy(vaultPath string) (*Policy, error) {
	f, err := openPolicyFile(filepath.Join(vaultPath, PolicyFileName))
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) || errors.Is(err, ErrPolicySymlink) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks the version and the deny patterns.
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d", p.Version)
	}
	for _, pattern := range p.DenyFetch {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid deny_fetch pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// WriteAllowed reports whether mutating tools may run.
func (p *Policy) WriteAllowed() bool {
	return p.AllowWrite == nil || *p.AllowWrite
}

// FetchAllowed reports whether entry_fetch may return service.
func (p *Policy) FetchAllowed(service string) (allowed bool, reason string) {
	for _, pattern := range p.DenyFetch {
		if ok, _ := path.Match(pattern, service); ok {
			return false, fmt.Sprintf("service matches denied pattern '%s'", pattern)
		}
	}
	return true, ""
}
