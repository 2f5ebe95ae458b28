// Package hosts resolves symbolic host names to SSH connection parameters.
//
// The store is a YAML file, by default ~/.config/gangway/hosts.yaml:
//
//	hosts:
//	  web-1:
//	    addr: web-1.example.com
//	    port: 22
//	    user: deploy
//	    identity_files:
//	      - ~/.ssh/id_ed25519
package hosts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Local is the sentinel host name selecting the local shell backend.
// It never reaches Resolve.
const Local = "local"

// ErrHostNotFound is returned when a name has no entry in the store.
// Callers must report it as a session-establishment failure, distinct
// from an authentication failure.
var ErrHostNotFound = errors.New("host not found")

// Params are the resolved connection parameters for one host.
type Params struct {
	Name          string
	Addr          string
	Port          int
	User          string
	IdentityFiles []string
}

// Address returns the dialable host:port string.
func (p Params) Address() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.Port)
}

type hostEntry struct {
	Addr          string   `yaml:"addr"`
	Port          int      `yaml:"port"`
	User          string   `yaml:"user"`
	IdentityFiles []string `yaml:"identity_files"`
}

type storeFile struct {
	Hosts map[string]hostEntry `yaml:"hosts"`
}

// Directory is a read-only host name resolver backed by a YAML file.
type Directory struct {
	hosts map[string]hostEntry
}

// DefaultPath returns the default hosts file location.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "gangway", "hosts.yaml")
	}
	return "hosts.yaml"
}

// Load reads the store from path. A missing file yields an empty
// directory, not an error: a gateway serving only local sessions needs
// no hosts file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Directory{hosts: map[string]hostEntry{}}, nil
		}
		return nil, fmt.Errorf("read hosts file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML hosts store.
func Parse(data []byte) (*Directory, error) {
	var sf storeFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse hosts file: %w", err)
	}
	if sf.Hosts == nil {
		sf.Hosts = map[string]hostEntry{}
	}
	for name, h := range sf.Hosts {
		if h.Addr == "" {
			return nil, fmt.Errorf("host %q: addr is required", name)
		}
	}
	return &Directory{hosts: sf.Hosts}, nil
}

// Resolve maps a symbolic name to connection parameters.
func (d *Directory) Resolve(name string) (Params, error) {
	h, ok := d.hosts[name]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrHostNotFound, name)
	}
	p := Params{
		Name:          name,
		Addr:          h.Addr,
		Port:          h.Port,
		User:          h.User,
		IdentityFiles: expandAll(h.IdentityFiles),
	}
	if p.Port == 0 {
		p.Port = 22
	}
	if p.User == "" {
		p.User = os.Getenv("USER")
	}
	return p, nil
}

// Names returns every configured host name, for display.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.hosts))
	for name := range d.hosts {
		names = append(names, name)
	}
	return names
}

func expandAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, ExpandTilde(p))
	}
	return out
}

// ExpandTilde replaces a leading ~/ with the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
