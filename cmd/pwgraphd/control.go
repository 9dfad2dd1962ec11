package main

import (
	"go.uber.org/zap"

	"github.com/pwcore/node-graph/graph"
	"github.com/pwcore/node-graph/pwconfig"
	"github.com/pwcore/node-graph/pwdataloop"
	"github.com/pwcore/node-graph/pwmetrics"
)

// Control owns the running Context and is the target of the
// pwconfig.Watcher's OnReload hook (SPEC_FULL.md §10 ambient stack:
// "the Control.OnReload hook"). Its method set matches
// pwconfig.ReloadCallback directly.
type Control struct {
	log     *zap.Logger
	ctx     *graph.Context
	tu      pwdataloop.ThreadUtils
	metrics *pwmetrics.Metrics

	dataLoops []*pwdataloop.DataLoop
}

// NewControl builds a Control around an already-constructed Context.
func NewControl(log *zap.Logger, ctx *graph.Context, tu pwdataloop.ThreadUtils, metrics *pwmetrics.Metrics) *Control {
	if metrics != nil {
		ctx.SetMetrics(metrics)
	}
	return &Control{log: log, ctx: ctx, tu: tu, metrics: metrics}
}

// Apply performs the initial, full application of cfg: spa-libs rules,
// data loops, then the modules/objects/exec entry lists (spec §6).
func (c *Control) Apply(cfg *pwconfig.Config) error {
	if err := pwconfig.ApplySpaLibs(c.ctx.Registry, cfg); err != nil {
		return err
	}

	loops, err := pwconfig.ApplyDataLoops(c.ctx, c.tu, cfg)
	if err != nil {
		return err
	}
	c.dataLoops = loops

	c.applyEntries(cfg)
	return nil
}

// OnReload implements pwconfig.ReloadCallback: re-applies the parts of a
// config that are safe to change live. context.data-loops is not among
// them — changing thread affinity/priority for an already-running data
// loop requires a restart, so a reload only logs a warning if that section
// changed shape instead of attempting a live migration.
func (c *Control) OnReload(cfg *pwconfig.Config) error {
	if err := pwconfig.ApplySpaLibs(c.ctx.Registry, cfg); err != nil {
		return err
	}
	if len(cfg.DataLoops) != len(c.dataLoops) {
		c.log.Warn("pwgraphd: context.data-loops changed on reload, restart required to apply",
			zap.Int("configured", len(cfg.DataLoops)), zap.Int("running", len(c.dataLoops)))
	}
	c.applyEntries(cfg)
	return nil
}

func (c *Control) applyEntries(cfg *pwconfig.Config) {
	for _, errs := range [][]error{
		pwconfig.ApplyEntries(cfg.Modules, cfg.Properties, c.applyModule),
		pwconfig.ApplyEntries(cfg.Objects, cfg.Properties, c.applyObject),
		pwconfig.ApplyEntries(cfg.Exec, cfg.Properties, c.applyExec),
	} {
		for _, err := range errs {
			c.log.Error("pwgraphd: config entry failed", zap.Error(err))
		}
	}
}

// applyModule, applyObject and applyExec are placeholders for the three
// entry kinds spec §6 names; concrete SPA module/device loading and exec
// spawning are out of this module's scope (§1 Non-goals exclude concrete
// SPA plugin adapters), so these only log at this stage.
func (c *Control) applyModule(e pwconfig.Entry) error {
	c.log.Debug("pwgraphd: module entry", zap.String("name", e.Name))
	return nil
}

func (c *Control) applyObject(e pwconfig.Entry) error {
	c.log.Debug("pwgraphd: object entry", zap.String("name", e.Name))
	return nil
}

func (c *Control) applyExec(e pwconfig.Entry) error {
	c.log.Debug("pwgraphd: exec entry", zap.String("name", e.Name))
	return nil
}

// Close tears down every data loop Apply started, then the Context itself.
func (c *Control) Close() error {
	for _, dl := range c.dataLoops {
		dl.Stop()
	}
	return c.ctx.Close()
}
