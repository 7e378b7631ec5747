// Package runprofile loads run profiles: the target server of a test run and the
// named users tests act as, each with its authorization configuration.
package runprofile

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the conventional run profile file name, looked up relative to
// the test root when no path is configured.
const DefaultFile = "run-profile.yaml"

// ErrUnknownUser is returned when a user name is not defined in the profile.
var ErrUnknownUser = errors.New("unknown user")

// UserAuth selects an authorization method and carries its method specific data.
type UserAuth struct {
	Type string         `yaml:"type" json:"type" toml:"type"`
	Data map[string]any `yaml:"data" json:"data" toml:"data"`
}

// User is a logical user tests can act as.
type User struct {
	Auth UserAuth `yaml:"auth" json:"auth" toml:"auth"`
}

// RunProfile is the configuration of a single test session. It is loaded once and
// must not be modified afterwards.
type RunProfile struct {
	TargetServer string          `yaml:"target_server" json:"target_server" toml:"target_server"`
	Users        map[string]User `yaml:"users" json:"users" toml:"users"`

	// DefaultUser is used by contexts when a request does not name a user.
	DefaultUser string `yaml:"default_user,omitempty" json:"default_user,omitempty" toml:"default_user,omitempty"`
}

// Load reads and parses a run profile. The format is detected by file extension:
// .yaml/.yml, .json or .toml.
func Load(path string) (*RunProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run profile %s: %w", path, err)
	}

	var p RunProfile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	case ".json":
		err = json.Unmarshal(data, &p)
	case ".toml":
		err = toml.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("unsupported run profile format %q (expected .yaml, .yml, .json or .toml)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing run profile %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("run profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks the invariants of a run profile and fills in defaults.
func (p *RunProfile) Validate() error {
	if p.TargetServer == "" {
		return errors.New("target_server is required")
	}
	u, err := url.Parse(p.TargetServer)
	if err != nil {
		return fmt.Errorf("target_server: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("target_server %q must be an absolute URL", p.TargetServer)
	}

	if p.Users == nil {
		p.Users = make(map[string]User)
	}
	for name, user := range p.Users {
		if user.Auth.Type == "" {
			return fmt.Errorf("user %q: auth.type is required", name)
		}
		if user.Auth.Data == nil {
			user.Auth.Data = make(map[string]any)
			p.Users[name] = user
		}
	}

	if p.DefaultUser != "" {
		if _, ok := p.Users[p.DefaultUser]; !ok {
			return fmt.Errorf("default_user %q is not defined in users", p.DefaultUser)
		}
	}
	return nil
}

// User returns the named user or an error wrapping ErrUnknownUser.
func (p *RunProfile) User(name string) (User, error) {
	u, ok := p.Users[name]
	if !ok {
		return User{}, fmt.Errorf("%w %q: not defined in run profile", ErrUnknownUser, name)
	}
	return u, nil
}

// UserNames returns all user names in sorted order.
func (p *RunProfile) UserNames() []string {
	return slices.Sorted(maps.Keys(p.Users))
}
