// Package pwconfig loads and hot-reloads the core's configuration (spec §6
// Configuration): context.properties, context.data-loops, context.spa-libs,
// and the context.modules/context.objects/context.exec entry lists.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwconfig

import "strings"

// ContextProperties holds `context.properties` (spec §6): the well-known
// clock/CPU/memory properties the core reads directly, plus whatever else
// the file sets, preserved verbatim in Extra for Entry.Matches and for
// plugins that read arbitrary properties.
type ContextProperties struct {
	DefaultClockRate    int
	DefaultClockQuantum int
	CPUZeroDenormals    bool
	MemMlockAll         bool
	Extra               map[string]string
}

// Get looks up an arbitrary context property by key.
func (p ContextProperties) Get(key string) (string, bool) {
	v, ok := p.Extra[key]
	return v, ok
}

// DataLoopSpec is one `context.data-loops` entry (spec §6: "array of
// {loop.name, loop.class, thread.affinity, thread.priority}").
type DataLoopSpec struct {
	LoopName       string `mapstructure:"loop_name"`
	LoopClass      string `mapstructure:"loop_class"`
	ThreadAffinity []int  `mapstructure:"thread_affinity"`
	ThreadPriority int    `mapstructure:"thread_priority"`
}

// SpaLibRule is one `context.spa-libs` entry (spec §6: "factory-regex ->
// library path").
type SpaLibRule struct {
	FactoryPattern string `mapstructure:"factory_pattern"`
	LibraryPath    string `mapstructure:"library_path"`
}

// Flags recognized on a context.modules/objects/exec Entry (spec §6).
const (
	FlagIfExists = "ifexists"
	FlagNoFail   = "nofail"
)

// Entry is one `context.modules` / `context.objects` / `context.exec` item
// (spec §6: "per-entry condition ... and flags (ifexists, nofail)").
type Entry struct {
	Name      string         `mapstructure:"name" toml:"name"`
	Args      map[string]any `mapstructure:"args" toml:"args"`
	Condition string         `mapstructure:"condition" toml:"condition"`
	Flags     []string       `mapstructure:"flags" toml:"flags"`
}

// HasFlag reports whether e carries the given flag.
func (e Entry) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Matches reports whether e's condition is satisfied against props (spec §6
// "condition matched against context properties"). An empty condition
// always matches. A non-empty one is a "key=value" equality test; a
// malformed condition (no "=") never matches.
func (e Entry) Matches(props ContextProperties) bool {
	if e.Condition == "" {
		return true
	}
	key, want, ok := strings.Cut(e.Condition, "=")
	if !ok {
		return false
	}
	got, exists := props.Get(strings.TrimSpace(key))
	return exists && got == strings.TrimSpace(want)
}

// Config is the fully decoded contents of one configuration file.
type Config struct {
	Properties ContextProperties
	DataLoops  []DataLoopSpec
	SpaLibs    []SpaLibRule
	Modules    []Entry
	Objects    []Entry
	Exec       []Entry
}
