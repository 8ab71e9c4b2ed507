// Command reelforge is a thin demo wiring for the engine: it loads a tiny
// blueprint with one producer, plans and runs it against the filesystem
// store under the configured storage root with the simulated provider
// handler, and prints the resulting
// BuildSummary. It exists only to exercise generatePlan/executePlan/
// buildManifest/saveManifest end to end (spec.md §6); the real CLI, viewer,
// and terminal UI are out of scope (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	reelforge "reelforge.design/reelforge"
	"reelforge.design/reelforge/blueprint"
	"reelforge.design/reelforge/engine"
	"reelforge.design/reelforge/plan"
	"reelforge.design/reelforge/progress"
	"reelforge.design/reelforge/provider"
	"reelforge.design/reelforge/store/eventlog"
	"reelforge.design/reelforge/store/fs"
	"reelforge.design/reelforge/store/manifest"
	"reelforge.design/reelforge/telemetry"
)

func demoTree() *blueprint.Document {
	return &blueprint.Document{
		Inputs: []blueprint.InputDecl{
			{Name: "Theme", Type: "string"},
		},
		Artefacts: []blueprint.ArtefactDecl{
			{Name: "Image", Producer: "P", Type: "image/png"},
		},
		Producers: []blueprint.ProducerDecl{
			{
				Name:    "P",
				Models:  []blueprint.ModelVariant{{Provider: "simulated", Model: "demo-v1"}},
				Outputs: []string{"Image"},
			},
		},
		Edges: []blueprint.EdgeDecl{
			{From: "Input:Theme", To: "P"},
		},
	}
}

func main() {
	configPath := flag.String("config", "./reelforge.yaml", "path to a reelforge.Config YAML file")
	root := flag.String("root", "", "storage root (overrides the config file)")
	movieID := flag.String("movie", "demo-movie", "movie id")
	theme := flag.String("theme", "sunset", "Input:Theme value")
	flag.Parse()

	cfg, err := reelforge.LoadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *root != "" {
		cfg.StorageRoot = *root
	}

	ctx := context.Background()
	logger := telemetry.NewNoopLogger()
	bus := progress.NewBus()
	unsub := bus.Subscribe(ctx, func(e progress.Event) {
		fmt.Printf("[%s] movie=%s revision=%d layer=%d job=%s\n", e.Kind, e.MovieID, e.Revision, e.LayerIndex, e.JobID)
	})
	defer unsub()

	tree := demoTree()
	rawInputs := map[string]any{"Input:Theme": *theme}

	durable := fs.New(cfg.StorageRoot, logger)
	log, err := eventlog.New(durable, *movieID, logger)
	if err != nil {
		fatal(err)
	}

	planRes, err := engine.GeneratePlan(ctx, *movieID, tree, rawInputs, durable, log, plan.Scope{}, time.Now, logger)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("planned revision %d with %d layers\n", planRes.TargetRevision, len(planRes.Plan.Layers))

	if err := engine.CommitInputEvents(ctx, log, planRes.InputEvents, planRes.TargetRevision); err != nil {
		fatal(err)
	}

	handlers := provider.NewCache()
	handlers.Register(&provider.Simulated{}, provider.Descriptor{Mode: provider.ModeSimulated, Provider: "simulated", Model: "demo-v1"})
	if err := handlers.Warm(ctx); err != nil {
		fatal(err)
	}

	g, err := blueprint.Expand(tree, planRes.ResolvedInputs)
	if err != nil {
		fatal(err)
	}

	rc := engine.RunContext{
		MovieID:  *movieID,
		Manifest: planRes.Manifest,
		Storage:  durable,
		EventLog: log,
		Handlers: handlers,
		Bus:      bus,
		Logger:   logger,
	}
	rr, err := engine.ExecutePlan(ctx, planRes.Plan, g, rc, planRes.ResolvedInputs, engine.ExecOptions{
		Concurrency: cfg.DefaultConcurrency,
		Mode:        provider.ModeSimulated,
	})
	if err != nil {
		fatal(err)
	}

	runConfig := &manifest.RunConfig{Concurrency: cfg.DefaultConcurrency}
	m, err := engine.BuildManifest(ctx, rc, planRes.TargetRevision, runConfig, time.Now())
	if err != nil {
		fatal(err)
	}
	manifestHash, err := engine.SaveManifest(ctx, rc, m, planRes.ManifestHash)
	if err != nil {
		fatal(err)
	}

	summary := engine.Summarize(rr, manifestHash)
	fmt.Printf("run %s: succeeded=%d failed=%d skipped=%d\n", summary.Status, summary.Succeeded, summary.Failed, summary.Skipped)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "reelforge:", err)
	os.Exit(1)
}
