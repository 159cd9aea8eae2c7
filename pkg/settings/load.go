package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/giantswarm/given/pkg/logging"
)

// EnvVar names the environment variable holding an explicit settings path.
const EnvVar = "GIVEN_SETTINGS"

// FileNames are searched in order in each candidate directory.
var FileNames = []string{"given.settings.yaml", "given.settings.yml", "given.settings.json"}

// MaxParentDirs is how many parent directories are searched above the start directory.
const MaxParentDirs = 3

// Error is returned for settings files that exist but can't be read or parsed.
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("settings %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Discover returns the settings file to use: the path named by GIVEN_SETTINGS
// when set, otherwise the first FileNames match in dir and up to
// MaxParentDirs parents. It returns "" when nothing is found.
func Discover(dir string, getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if explicit := strings.TrimSpace(getenv(EnvVar)); explicit != "" {
		if !filepath.IsAbs(explicit) {
			explicit = filepath.Join(dir, explicit)
		}
		return filepath.Clean(explicit)
	}

	cur := dir
	for i := 0; i <= MaxParentDirs; i++ {
		for _, name := range FileNames {
			candidate := filepath.Join(cur, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return ""
}

var envPattern = regexp.MustCompile(`\$\{ENV:([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${ENV:NAME} with the value of NAME. Unset variables
// expand to the empty string.
func ExpandEnv(data []byte, getenv func(string) string) []byte {
	if getenv == nil {
		getenv = os.Getenv
	}
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(getenv(string(name)))
	})
}

// LoadFile reads, expands and parses the file at path. A missing file is
// reported as an error wrapping fs.ErrNotExist.
func LoadFile(path string, getenv func(string) string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Op: "read", Err: err}
	}
	s, err := Parse(data, filepath.Ext(path), getenv)
	if err != nil {
		return nil, &Error{Path: path, Op: "parse", Err: err}
	}
	s.Path = path
	return s, nil
}

// Parse decodes a settings document. ext selects the format: ".json" is
// decoded tolerantly (comments and trailing commas allowed), anything else
// as YAML. Defaults are applied to the result.
func Parse(data []byte, ext string, getenv func(string) string) (*Settings, error) {
	data = ExpandEnv(data, getenv)

	s := &Settings{}
	switch strings.ToLower(ext) {
	case ".json":
		if err := sigsyaml.Unmarshal(SanitizeJSON(data), s); err != nil {
			return nil, err
		}
	default:
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := yaml.Unmarshal(data, s); err != nil {
				return nil, err
			}
		}
	}
	s.ApplyDefaults()
	return s, nil
}

func loadOrDefault(path string, getenv func(string) string) (*Settings, error) {
	if path == "" {
		logging.Warn("Settings", "No settings file found, using defaults")
		return Defaults(), nil
	}
	s, err := LoadFile(path, getenv)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.Warn("Settings", "Settings file %s does not exist, using defaults", path)
			return Defaults(), nil
		}
		return nil, err
	}
	logging.Debug("Settings", "Loaded settings from %s", path)
	return s, nil
}
