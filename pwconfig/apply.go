package pwconfig

import (
	"github.com/pwcore/node-graph/graph"
	"github.com/pwcore/node-graph/pwdataloop"
	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/spa"
)

// ApplySpaLibs registers every context.spa-libs rule against reg (spec §6
// "SPA plugin loading... regex-keyed map from context.spa-libs").
func ApplySpaLibs(reg *spa.Registry, cfg *Config) error {
	for _, rule := range cfg.SpaLibs {
		if err := reg.AddSpaLibRule(rule.FactoryPattern, rule.LibraryPath); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDataLoops constructs, registers and starts one pwdataloop.DataLoop
// per context.data-loops entry (spec §6, §4.3 "Node-to-loop assignment"),
// using tu to create each loop's real-time thread. Loops are started before
// being returned so they are immediately eligible for Context.AssignLoop.
// On error the loops already started are still returned so the caller can
// tear them down.
func ApplyDataLoops(ctx *graph.Context, tu pwdataloop.ThreadUtils, cfg *Config) ([]*pwdataloop.DataLoop, error) {
	var out []*pwdataloop.DataLoop
	for _, spec := range cfg.DataLoops {
		props := pwdataloop.Props{
			Name:        spec.LoopName,
			CPUAffinity: spec.ThreadAffinity,
			RTPriority:  spec.ThreadPriority,
		}
		dl, err := ctx.AddDataLoop(spec.LoopName, spec.LoopClass, tu, props)
		if err != nil {
			return out, pwerrno.New(pwerrno.ENOMEM, "pwconfig.ApplyDataLoops: "+spec.LoopName, err)
		}
		if err := dl.Start(); err != nil {
			return out, err
		}
		out = append(out, dl)
	}
	return out, nil
}

// ApplyEntries runs fn for every entry in entries whose Condition matches
// props (spec §6 "condition matched against context properties"), skipping
// non-matching entries entirely. An error from fn is swallowed rather than
// collected when the entry carries the nofail flag; the ifexists flag is
// the caller's concern (fn is expected to check existence itself and return
// nil when ifexists is set and the referent is absent) since only the
// caller knows what "exists" means for a module path vs. an exec command.
func ApplyEntries(entries []Entry, props ContextProperties, fn func(Entry) error) []error {
	var errs []error
	for _, e := range entries {
		if !e.Matches(props) {
			continue
		}
		if err := fn(e); err != nil {
			if e.HasFlag(FlagNoFail) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errs
}
