package cmd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	texttemplate "text/template"

	"github.com/spf13/cobra"

	"github.com/stencilkit/stencil/internal/cache"
	"github.com/stencilkit/stencil/internal/config"
	"github.com/stencilkit/stencil/internal/monitor"
	"github.com/stencilkit/stencil/internal/orchestrator"
	"github.com/stencilkit/stencil/internal/output"
	"github.com/stencilkit/stencil/internal/registry"
	"github.com/stencilkit/stencil/internal/scheduler"
	"github.com/stencilkit/stencil/internal/types"
)

var (
	manifestPath string
	projectName  string
	version      string
	outputRoot   string
	strictMode   bool
	workers      int
	dryRun       bool
)

var generateCmd = &cobra.Command{
	Use:     "generate",
	Aliases: []string{"gen", "g"},
	Short:   "Generate artifacts from a template manifest",
	RunE:    runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "stencil.templates.yml",
		"template manifest path")
	generateCmd.Flags().StringVarP(&projectName, "project", "p", "",
		"project name (required)")
	generateCmd.Flags().StringVar(&version, "project-version", "0.1.0", "project version")
	generateCmd.Flags().StringVarP(&outputRoot, "out", "o", "",
		"output root (defaults to generator.output_root)")
	generateCmd.Flags().BoolVar(&strictMode, "strict", false,
		"propagate dependency failures transitively")
	generateCmd.Flags().IntVarP(&workers, "workers", "w", 0,
		"worker pool size (defaults to configuration)")
	generateCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"render without writing artifacts to disk")
	_ = generateCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging.Format)

	reg := registry.NewTemplateRegistry()
	if err := reg.LoadManifest(manifestPath, builtinResolver()); err != nil {
		return err
	}

	artifacts := cache.New(cfg.Cache.MaxSizeBytes, cfg.Cache.TTL)
	if cfg.Cache.SnapshotPath != "" {
		if loaded, err := artifacts.LoadSnapshot(cfg.Cache.SnapshotPath); err != nil {
			logger.Warn(ctx, err, "discarding unreadable cache snapshot")
		} else if loaded > 0 {
			logger.Debug(ctx, "warm-started cache", "entries", loaded)
		}
	}

	root := outputRoot
	if root == "" {
		root = cfg.Generator.OutputRoot
	}
	gctx := &types.GeneratorContext{
		Project: types.ProjectMeta{
			Name:       projectName,
			Version:    version,
			OutputRoot: root,
		},
		Metadata: map[string]string{},
	}

	if cfg.Cache.WatchSources {
		watcher, werr := cache.NewSourceWatcher(artifacts, logger)
		if werr != nil {
			logger.Warn(ctx, werr, "source watching disabled")
		} else {
			if err := watcher.TrackTemplates(reg.All(), gctx, cache.DefaultKeyStrategy); err != nil {
				logger.Warn(ctx, err, "source watching incomplete")
			}
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	mon := monitor.New(cfg.Monitor, nil, logger)
	mon.StartMonitoring(ctx)
	defer mon.StopMonitoring()

	pool := scheduler.New(artifacts, cache.DefaultKeyStrategy, logger)
	defer pool.Cleanup(0)

	orch := orchestrator.New(cfg, mon, pool, logger)
	report := orch.Generate(ctx, reg.All(), gctx, orchestrator.Options{
		MaxConcurrency: workers,
		Strict:         strictMode,
	})

	for _, warning := range report.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
	}
	for _, genErr := range report.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", genErr)
	}

	rendered := report.Artifacts()
	if !dryRun {
		writer := output.NewWriter(nil)
		written, err := writer.WriteAll(rendered)
		if err != nil {
			return fmt.Errorf("wrote %d of %d artifacts: %w", written, len(rendered), err)
		}
	}

	if cfg.Cache.SnapshotPath != "" {
		if err := artifacts.SaveSnapshot(cfg.Cache.SnapshotPath); err != nil {
			logger.Warn(ctx, err, "failed to persist cache snapshot")
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d artifacts, %d failed templates in %s\n",
		report.RunID, len(rendered), report.FailedCount(), report.Duration.Round(1e6))

	if !report.Success || len(report.Errors) > 0 {
		return fmt.Errorf("generation finished with failures")
	}
	return nil
}

// builtinResolver resolves the renderer references the CLI ships with.
// Hosts embedding the pipeline supply their own resolver; the CLI only
// knows Go text templates executed against the generator context.
func builtinResolver() types.RendererResolver {
	return types.ResolverFunc(func(ref string) (types.Renderer, error) {
		switch ref {
		case "gotemplate":
			return types.RendererFunc(goTemplateRender), nil
		case "verbatim":
			return types.RendererFunc(verbatimRender), nil
		default:
			return nil, fmt.Errorf("unknown renderer %q", ref)
		}
	})
}

func goTemplateRender(ctx context.Context, tmpl *types.Template, gctx *types.GeneratorContext) (types.Artifact, error) {
	parsed, err := texttemplate.New(tmpl.ID).Parse(string(tmpl.Source))
	if err != nil {
		return types.Artifact{}, err
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, gctx); err != nil {
		return types.Artifact{}, err
	}
	return finishArtifact(tmpl, gctx, buf.Bytes())
}

func verbatimRender(ctx context.Context, tmpl *types.Template, gctx *types.GeneratorContext) (types.Artifact, error) {
	return finishArtifact(tmpl, gctx, tmpl.Source)
}

func finishArtifact(tmpl *types.Template, gctx *types.GeneratorContext, content []byte) (types.Artifact, error) {
	path, err := registry.ResolveTargetPath(tmpl.TargetPathPattern, gctx)
	if err != nil {
		return types.Artifact{}, err
	}
	sum := sha256.Sum256(content)
	return types.Artifact{
		Path:        path,
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}
