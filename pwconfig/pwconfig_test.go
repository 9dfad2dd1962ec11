package pwconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pwcore/node-graph/graph"
	"github.com/pwcore/node-graph/pwdataloop"
	"github.com/pwcore/node-graph/spa"
)

const sampleConfig = `
[context.properties]
default_clock_rate = 44100
default_clock_quantum = 512
cpu_zero_denormals = true
mem_mlock_all = false
extra_knob = "hello"

[[context.data-loops]]
loop_name = "rt-audio"
loop_class = "audio"
thread_affinity = [0, 1]
thread_priority = 88

[[context.spa-libs]]
factory_pattern = "audiotestsrc"
library_path = "/usr/lib/spa/audiotestsrc.so"

[[context.modules]]
name = "module-rt"
condition = ""
flags = ["nofail"]

[[context.objects]]
name = "dummy-sink"
condition = "profile=pro-audio"
flags = ["ifexists"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pwgraph.conf.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadDecodesAllSections(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Properties.DefaultClockRate != 44100 {
		t.Errorf("DefaultClockRate = %d, want 44100", cfg.Properties.DefaultClockRate)
	}
	if cfg.Properties.DefaultClockQuantum != 512 {
		t.Errorf("DefaultClockQuantum = %d, want 512", cfg.Properties.DefaultClockQuantum)
	}
	if !cfg.Properties.CPUZeroDenormals {
		t.Errorf("CPUZeroDenormals = false, want true")
	}
	if got, ok := cfg.Properties.Get("extra_knob"); !ok || got != "hello" {
		t.Errorf("Properties.Get(extra_knob) = %q, %v, want hello, true", got, ok)
	}

	if len(cfg.DataLoops) != 1 || cfg.DataLoops[0].LoopName != "rt-audio" {
		t.Fatalf("DataLoops = %+v, want one rt-audio entry", cfg.DataLoops)
	}
	if got := cfg.DataLoops[0].ThreadAffinity; len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("ThreadAffinity = %v, want [0 1]", got)
	}

	if len(cfg.SpaLibs) != 1 || cfg.SpaLibs[0].FactoryPattern != "audiotestsrc" {
		t.Fatalf("SpaLibs = %+v", cfg.SpaLibs)
	}

	if len(cfg.Modules) != 1 || !cfg.Modules[0].HasFlag(FlagNoFail) {
		t.Fatalf("Modules = %+v, want one nofail entry", cfg.Modules)
	}

	if len(cfg.Objects) != 1 || cfg.Objects[0].Condition != "profile=pro-audio" {
		t.Fatalf("Objects = %+v", cfg.Objects)
	}
}

func TestResolvePathEnvOverridesFlags(t *testing.T) {
	t.Setenv(EnvConfigDir, "")
	t.Setenv(EnvConfigName, "")
	t.Setenv(EnvConfigPrefix, "")

	if got, want := ResolvePath("/etc/pwgraph", "pwgraph.conf.toml", ""), filepath.Join("/etc/pwgraph", "pwgraph.conf.toml"); got != want {
		t.Errorf("ResolvePath = %q, want %q", got, want)
	}
	if got, want := ResolvePath("/etc/pwgraph", "pwgraph.conf.toml", "client-rt"), filepath.Join("/etc/pwgraph", "client-rt", "pwgraph.conf.toml"); got != want {
		t.Errorf("ResolvePath with prefix = %q, want %q", got, want)
	}

	t.Setenv(EnvConfigDir, "/opt/override")
	t.Setenv(EnvConfigName, "other.toml")
	if got, want := ResolvePath("/etc/pwgraph", "pwgraph.conf.toml", ""), filepath.Join("/opt/override", "other.toml"); got != want {
		t.Errorf("ResolvePath with env override = %q, want %q", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load: want error for missing file")
	}
}

func TestLoadYAMLEntriesOverridesObjects(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	yamlBody := "- name: yaml-sink\n  condition: \"\"\n  flags: [ifexists]\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "context.objects.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Objects) != 1 || cfg.Objects[0].Name != "yaml-sink" {
		t.Fatalf("Objects = %+v, want the YAML-sourced entry to win", cfg.Objects)
	}
}

func TestLoadTOMLModulesAppendsDropIn(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	tomlBody := "[[module]]\nname = \"module-extra\"\nflags = [\"nofail\"]\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "context.modules.d.toml"), []byte(tomlBody), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	found := false
	for _, m := range cfg.Modules {
		if m.Name == "module-extra" && m.HasFlag(FlagNoFail) {
			found = true
		}
	}
	if !found {
		t.Fatalf("Modules = %+v, want the TOML drop-in entry appended", cfg.Modules)
	}
}

func TestLoadTOMLModulesMissingFile(t *testing.T) {
	if _, err := LoadTOMLModules(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("LoadTOMLModules: want error for missing file")
	}
}

func TestEntryMatches(t *testing.T) {
	props := ContextProperties{Extra: map[string]string{"profile": "pro-audio"}}

	cases := []struct {
		name string
		e    Entry
		want bool
	}{
		{"empty condition always matches", Entry{}, true},
		{"matching key=value", Entry{Condition: "profile=pro-audio"}, true},
		{"mismatched value", Entry{Condition: "profile=desktop"}, false},
		{"missing key", Entry{Condition: "nope=1"}, false},
		{"malformed condition", Entry{Condition: "not-a-kv"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.e.Matches(props); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestApplyEntriesSkipsNonMatchingAndSwallowsNofail(t *testing.T) {
	props := ContextProperties{Extra: map[string]string{"profile": "pro-audio"}}
	entries := []Entry{
		{Name: "a", Condition: "profile=desktop"},
		{Name: "b", Flags: []string{FlagNoFail}},
		{Name: "c"},
	}

	var ran []string
	errs := ApplyEntries(entries, props, func(e Entry) error {
		ran = append(ran, e.Name)
		if e.Name == "b" {
			return errFake
		}
		return nil
	})

	if len(ran) != 2 || ran[0] != "b" || ran[1] != "c" {
		t.Fatalf("ran = %v, want [b c] (a skipped by condition)", ran)
	}
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none (b's error is nofail)", errs)
	}
}

var errFake = os.ErrInvalid

func TestApplySpaLibsWiresRegistryRules(t *testing.T) {
	cfg := &Config{SpaLibs: []SpaLibRule{
		{FactoryPattern: "^audiotestsrc$", LibraryPath: "/fake/audiotestsrc.so"},
	}}
	reg := spa.NewRegistry()
	if err := ApplySpaLibs(reg, cfg); err != nil {
		t.Fatalf("ApplySpaLibs: %v", err)
	}

	loaded := false
	libLoader := func(path string) (spa.EnumFunc, error) {
		loaded = true
		if path != "/fake/audiotestsrc.so" {
			t.Errorf("libLoader path = %q", path)
		}
		served := false
		return func(state int) (*spa.Factory, int, error) {
			if served {
				return nil, 0, nil
			}
			served = true
			return &spa.Factory{
				Name: "audiotestsrc",
				Init: func(support []spa.Support, info map[string]string) (any, error) {
					return spa.NewTestSourceNode(), nil
				},
				GetInterface: func(handle any, iface string) (any, error) {
					return handle.(spa.Node), nil
				},
			}, 0, nil
		}, nil
	}

	node, err := reg.Create("audiotestsrc", nil, nil, libLoader)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if node == nil {
		t.Fatal("Create returned a nil node")
	}
	if !loaded {
		t.Error("spa-libs rule never triggered the library loader")
	}
}

func TestApplyDataLoops(t *testing.T) {
	ctx, err := graph.New(nil)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	t.Cleanup(func() { ctx.Close() })

	cfg := &Config{DataLoops: []DataLoopSpec{
		{LoopName: "rt-audio", LoopClass: "audio", ThreadPriority: -1},
	}}
	tu := pwdataloop.NewInProcessThreadUtils()

	loops, err := ApplyDataLoops(ctx, tu, cfg)
	if err != nil {
		t.Fatalf("ApplyDataLoops: %v", err)
	}
	if len(loops) != 1 {
		t.Fatalf("loops = %d, want 1", len(loops))
	}
	t.Cleanup(func() {
		for _, dl := range loops {
			dl.Stop()
		}
	})

	if got := ctx.AssignLoop("rt-audio", ""); got != loops[0] {
		t.Fatalf("AssignLoop(\"rt-audio\", \"\") = %v, want %v", got, loops[0])
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	w.debounce = 20 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	w.Start()

	updated := strings.Replace(sampleConfig, "default_clock_rate = 44100", "default_clock_rate = 96000", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Properties.DefaultClockRate != 96000 {
			t.Errorf("reloaded DefaultClockRate = %d, want 96000", cfg.Properties.DefaultClockRate)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never reloaded after a file write")
	}
}

func TestWatcherIgnoresOwnWrite(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	w.debounce = 20 * time.Millisecond

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) error {
		reloaded <- cfg
		return nil
	})
	w.Start()

	w.MarkOwnWrite()
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatal("watcher reloaded on a write it was told to ignore")
	case <-time.After(200 * time.Millisecond):
	}
}
