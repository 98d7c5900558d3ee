// Package types contains the core data types shared across the generation
// pipeline: template descriptors, the per-run generator context, rendered
// artifacts, and per-template processing results.
package types

import (
	"time"
)

// TemplateFormat identifies the output format a template produces.
type TemplateFormat int

const (
	FormatSource TemplateFormat = iota
	FormatConfig
	FormatDocumentation
	FormatOther
)

// String returns the string representation of the format.
func (f TemplateFormat) String() string {
	switch f {
	case FormatSource:
		return "source"
	case FormatConfig:
		return "config"
	case FormatDocumentation:
		return "documentation"
	default:
		return "other"
	}
}

// ParseFormat parses a manifest format string into a TemplateFormat.
func ParseFormat(s string) TemplateFormat {
	switch s {
	case "source", "":
		return FormatSource
	case "config":
		return FormatConfig
	case "documentation", "docs":
		return FormatDocumentation
	default:
		return FormatOther
	}
}

// Template describes a single unit of generation work. Templates are
// immutable once registered; identity is ID.
type Template struct {
	// ID uniquely identifies the template within a registry.
	ID string
	// DependsOn lists the IDs of templates that must reach a terminal
	// state before this template may start.
	DependsOn []string
	// TargetPathPattern is the output path pattern, possibly containing
	// naming tokens resolved against the generator context.
	TargetPathPattern string
	// Format is the output format produced by this template.
	Format TemplateFormat
	// SourcePath is where the template source was loaded from. Used for
	// freshness fingerprinting; may be empty for in-memory templates.
	SourcePath string
	// Source is the raw template source content. Participates in the
	// compiled-artifact cache key.
	Source []byte
	// Renderer is the rendering capability for this template, resolved
	// once at load time.
	Renderer Renderer
}

// RenderOptions carries per-render hints from the orchestrator.
type RenderOptions struct {
	// Streaming asks the renderer to prefer streaming I/O where it
	// supports it. Advisory.
	Streaming bool
}

// ProjectMeta holds project-level metadata shared by all renders in a run.
type ProjectMeta struct {
	Name       string
	Version    string
	OutputRoot string
}

// GeneratorContext is the read-only domain-model snapshot passed to every
// render in a run. It is shared by all concurrent workers and must never
// be mutated during a run.
type GeneratorContext struct {
	Project ProjectMeta
	// Model is the parsed domain model supplied by the parser
	// collaborator. Opaque to the pipeline.
	Model any
	// Metadata carries free-form string metadata for renderers.
	Metadata map[string]string
	// Render carries per-run rendering hints.
	Render RenderOptions
}

// Artifact is the rendered output of one template.
type Artifact struct {
	Path        string `msgpack:"path"`
	Content     []byte `msgpack:"content"`
	ContentHash string `msgpack:"content_hash"`
}

// DiagnosticSeverity grades a diagnostic.
type DiagnosticSeverity int

const (
	SeverityInfo DiagnosticSeverity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the severity.
func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is a single message attached to a processing result.
type Diagnostic struct {
	Severity DiagnosticSeverity
	Message  string
	// TemplateID names the template the diagnostic refers to, which may
	// differ from the result's template when linking upstream failures.
	TemplateID string
}

// ProcessingResult is the terminal outcome record for one template in one
// run. Immutable once returned by the scheduler.
type ProcessingResult struct {
	TemplateID  string
	Success     bool
	CacheHit    bool
	Outputs     []Artifact
	Diagnostics []Diagnostic
	// StartedAt and CompletedAt bracket the item's Running window. Zero
	// for items that were never started (strict-mode cascades, timeouts).
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Failed reports whether the result carries a failure.
func (r ProcessingResult) Failed() bool { return !r.Success }

// ErrorDiagnostics returns the error-severity diagnostics of the result.
func (r ProcessingResult) ErrorDiagnostics() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// ValidationResult is produced by the per-template validation pass.
type ValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
	// ComplexityEstimate is a rough cost score used for scheduling hints
	// and reporting; larger means more expensive.
	ComplexityEstimate int
}
