package spa

import (
	"regexp"
	"sync"

	"github.com/pwcore/node-graph/pwerrno"
)

// Support is one entry of the abstract capability vector plugin factories
// receive at Init (spec §9 "pass a Support value explicitly through
// constructors; never reach for it via a thread-local"). Concrete values
// are supplied by the Context (log, system, loop, loop-utils,
// plugin-loader, thread-utils, dbus per spec §3 Context).
type Support struct {
	Type  string
	Iface any
}

// Factory describes one pluggable node/device implementation a library
// exposes (spec §6 "Each factory declares (name, version, size, init(...),
// get_interface(...))"). Size is carried for parity with the spec's
// opaque-handle-allocation model; in Go, Init simply constructs and returns
// the handle directly rather than writing into a pre-sized buffer.
type Factory struct {
	Name    string
	Version uint32

	// Init constructs a handle given the support vector. info carries the
	// factory-specific construction properties (e.g. node.name).
	Init func(support []Support, info map[string]string) (any, error)

	// GetInterface narrows a constructed handle to a requested interface
	// name ("Node", "Device", "Log", "System", "Loop", "DBus",
	// "PluginLoader"); returns ENOTSUP if handle doesn't implement it.
	GetInterface func(handle any, iface string) (any, error)
}

// Library is the result of loading one SPA plugin library: its declared
// factories, keyed by name.
type Library struct {
	Path      string
	Factories map[string]*Factory
}

// EnumFunc is a plugin library's single entry symbol (spec §6 "exposes a
// single entry symbol resolving to a factory-enumeration function:
// enum(factory**, state*) → int"). Go plugins register this function
// directly (via an init-time Register call or a Go plugin symbol lookup)
// rather than through C calling conventions; Register below is the
// in-process registration path this module actually uses.
type EnumFunc func(state int) (*Factory, int, error)

// Registry loads and indexes SPA-style factories by a regex-keyed map
// matching spec §6's `context.spa-libs` configuration ("factory-regex →
// library path").
type Registry struct {
	mu        sync.RWMutex
	libs      map[string]*Library
	rules     []libRule
}

type libRule struct {
	pattern *regexp.Regexp
	path    string
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{libs: make(map[string]*Library)}
}

// AddSpaLibRule registers one `context.spa-libs` entry: factoryNamePattern
// is a regex matched against a requested factory name; libraryPath is
// loaded (via LoadLibrary) the first time a matching name is requested.
func (r *Registry) AddSpaLibRule(factoryNamePattern, libraryPath string) error {
	re, err := regexp.Compile(factoryNamePattern)
	if err != nil {
		return pwerrno.New(pwerrno.EINVAL, "Registry.AddSpaLibRule", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, libRule{pattern: re, path: libraryPath})
	return nil
}

// LoadLibrary registers the factories an EnumFunc exposes under path,
// modeling the core calling a library's enum() entry point (spec §6).
func (r *Registry) LoadLibrary(path string, enum EnumFunc) error {
	lib := &Library{Path: path, Factories: make(map[string]*Factory)}
	state := 0
	for {
		f, next, err := enum(state)
		if err != nil {
			return pwerrno.New(pwerrno.ENOENT, "Registry.LoadLibrary", err)
		}
		if f == nil {
			break
		}
		lib.Factories[f.Name] = f
		if next <= state {
			break
		}
		state = next
	}
	r.mu.Lock()
	r.libs[path] = lib
	r.mu.Unlock()
	return nil
}

// Find resolves a factory by name, consulting already-loaded libraries
// first and falling back to the spa-libs regex rules (spec §6 "matches
// factory name (regex-keyed map from context.spa-libs)"). libLoader is
// invoked to actually load a library the first time a rule matches; it is
// the caller's platform-specific plugin.Open-equivalent.
func (r *Registry) Find(factoryName string, libLoader func(path string) (EnumFunc, error)) (*Factory, error) {
	r.mu.RLock()
	for _, lib := range r.libs {
		if f, ok := lib.Factories[factoryName]; ok {
			r.mu.RUnlock()
			return f, nil
		}
	}
	rules := append([]libRule(nil), r.rules...)
	r.mu.RUnlock()

	for _, rule := range rules {
		if !rule.pattern.MatchString(factoryName) {
			continue
		}
		enum, err := libLoader(rule.path)
		if err != nil {
			return nil, pwerrno.New(pwerrno.ENOENT, "Registry.Find", err)
		}
		if err := r.LoadLibrary(rule.path, enum); err != nil {
			return nil, err
		}
		r.mu.RLock()
		f, ok := r.libs[rule.path].Factories[factoryName]
		r.mu.RUnlock()
		if ok {
			return f, nil
		}
	}
	return nil, pwerrno.New(pwerrno.ENOENT, "Registry.Find", nil)
}

// Create resolves factoryName and runs its Init+GetInterface("Node") in
// sequence, the common path the Context takes when instantiating a node
// from `context.objects`.
func (r *Registry) Create(factoryName string, support []Support, info map[string]string, libLoader func(path string) (EnumFunc, error)) (Node, error) {
	f, err := r.Find(factoryName, libLoader)
	if err != nil {
		return nil, err
	}
	handle, err := f.Init(support, info)
	if err != nil {
		return nil, err
	}
	iface, err := f.GetInterface(handle, "Node")
	if err != nil {
		return nil, err
	}
	node, ok := iface.(Node)
	if !ok {
		return nil, pwerrno.New(pwerrno.ENOTSUP, "Registry.Create", nil)
	}
	return node, nil
}
