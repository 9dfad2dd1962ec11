package pwconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pwcore/node-graph/pwerrno"
)

// Environment variables the core honors for locating its config (spec §6).
const (
	EnvConfigDir    = "PIPEWIRE_CONFIG_DIR"
	EnvConfigName   = "PIPEWIRE_CONFIG_NAME"
	EnvConfigPrefix = "PIPEWIRE_CONFIG_PREFIX"
)

// ResolvePath builds the config file path from dir/name/prefix (typically
// CLI flag defaults), each overridable by its PIPEWIRE_CONFIG_* environment
// variable (spec §6 "environment variables the core honors").
func ResolvePath(dir, name, prefix string) string {
	if d := os.Getenv(EnvConfigDir); d != "" {
		dir = d
	}
	if n := os.Getenv(EnvConfigName); n != "" {
		name = n
	}
	if p := os.Getenv(EnvConfigPrefix); p != "" {
		prefix = p
	}
	if prefix != "" {
		dir = filepath.Join(dir, prefix)
	}
	return filepath.Join(dir, name)
}

// SetDefaults installs the built-in context.properties defaults (spec §6),
// grounded on teranos-QNTX's am/defaults.go SetDefaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("context.properties.default_clock_rate", 48000)
	v.SetDefault("context.properties.default_clock_quantum", 1024)
	v.SetDefault("context.properties.cpu_zero_denormals", true)
	v.SetDefault("context.properties.mem_mlock_all", false)
}

// Load reads and decodes the TOML config file at path (spec §6
// Configuration). A sibling context.objects.yaml or context.exec.yaml that
// loads cleanly replaces the matching TOML section (see LoadYAMLEntries); a
// missing or malformed YAML file is ignored and the TOML section stands.
// Entries of a sibling context.modules.d.toml are appended to
// context.modules.
//
// Grounded on teranos-QNTX's am/load.go Load/initViper pipeline: a fresh
// *viper.Viper per call (never a shared package-global instance), explicit
// SetConfigFile + ReadInConfig, then per-section decode.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, pwerrno.New(pwerrno.ENOENT, "pwconfig.Load", err)
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if entries, err := LoadYAMLEntries(filepath.Join(dir, "context.objects.yaml")); err == nil {
		cfg.Objects = entries
	}
	if entries, err := LoadYAMLEntries(filepath.Join(dir, "context.exec.yaml")); err == nil {
		cfg.Exec = entries
	}
	if entries, err := LoadTOMLModules(filepath.Join(dir, "context.modules.d.toml")); err == nil {
		cfg.Modules = append(cfg.Modules, entries...)
	}
	return cfg, nil
}

// Decode builds a Config from an already-populated viper instance. Exposed
// separately from Load so the hot-reload watcher can re-decode without
// re-resolving the file path.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Properties: ContextProperties{
			DefaultClockRate:    v.GetInt("context.properties.default_clock_rate"),
			DefaultClockQuantum: v.GetInt("context.properties.default_clock_quantum"),
			CPUZeroDenormals:    v.GetBool("context.properties.cpu_zero_denormals"),
			MemMlockAll:         v.GetBool("context.properties.mem_mlock_all"),
			Extra:               stringifyMap(v.GetStringMap("context.properties")),
		},
	}
	sections := []struct {
		key string
		dst any
	}{
		{"context.data-loops", &cfg.DataLoops},
		{"context.spa-libs", &cfg.SpaLibs},
		{"context.modules", &cfg.Modules},
		{"context.objects", &cfg.Objects},
		{"context.exec", &cfg.Exec},
	}
	for _, s := range sections {
		if err := v.UnmarshalKey(s.key, s.dst); err != nil {
			return nil, pwerrno.New(pwerrno.EBADMSG, "pwconfig.Decode: "+s.key, err)
		}
	}
	return cfg, nil
}

// LoadYAMLEntries decodes a YAML sequence of Entry values from path (spec
// §6 context.objects/context.exec, which this package also accepts as a
// flat YAML list alongside the TOML table form — r3e-network-service_layer
// decodes its own list-shaped config sections the same way). A missing
// file is reported as ENOENT and a malformed one as EBADMSG; Load treats
// both the same and keeps the TOML section.
func LoadYAMLEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOENT, "pwconfig.LoadYAMLEntries", err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, pwerrno.New(pwerrno.EBADMSG, "pwconfig.LoadYAMLEntries", err)
	}
	return entries, nil
}

// tomlModuleFile is the on-disk shape of a context.modules.d.toml drop-in
// fragment: a flat array-of-tables, the natural TOML rendering of a module
// list (as opposed to YAML's list-of-maps form LoadYAMLEntries reads for
// objects/exec).
type tomlModuleFile struct {
	Module []Entry `toml:"module"`
}

// LoadTOMLModules decodes a standalone context.modules.d.toml drop-in file
// directly with BurntSushi/toml (bypassing viper) and appends its entries
// to context.modules, the way a packager might ship one module's default
// load rule alongside its plugin binary rather than editing the main
// config. Grounded on teranos-QNTX's am/load.go, which reads per-plugin
// TOML fragments the same direct way rather than through viper. A missing
// file is reported as an error so Load's caller treats it as optional.
func LoadTOMLModules(path string) ([]Entry, error) {
	var file tomlModuleFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, pwerrno.New(pwerrno.ENOENT, "pwconfig.LoadTOMLModules", err)
	}
	return file.Module, nil
}

func stringifyMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
