package nat

import (
	"os"
	"path/filepath"
	"strings"
)

// Sysctl reads and writes kernel parameters by their /proc/sys path
// ("net/ipv4/ip_forward").
type Sysctl interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// ProcSysctl accesses /proc/sys, or Root when set.
type ProcSysctl struct {
	Root string
}

func (p ProcSysctl) path(key string) string {
	root := p.Root
	if root == "" {
		root = "/proc/sys"
	}
	return filepath.Join(root, filepath.FromSlash(key))
}

// Get implements Sysctl.
func (p ProcSysctl) Get(key string) (string, error) {
	data, err := os.ReadFile(p.path(key))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Set implements Sysctl.
func (p ProcSysctl) Set(key, value string) error {
	return os.WriteFile(p.path(key), []byte(value+"\n"), 0644)
}
