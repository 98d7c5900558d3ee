package types

import "context"

// Renderer is the rendering capability attached to a template. The
// pipeline treats it as an opaque callable: template syntax and the
// rendering algorithm are the renderer's concern entirely.
//
// Render must be safe for concurrent use: the scheduler invokes renderers
// from multiple workers with a shared read-only context.
type Renderer interface {
	Render(ctx context.Context, tmpl *Template, gctx *GeneratorContext) (Artifact, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, tmpl *Template, gctx *GeneratorContext) (Artifact, error)

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, tmpl *Template, gctx *GeneratorContext) (Artifact, error) {
	return f(ctx, tmpl, gctx)
}

// RendererResolver resolves a manifest renderer reference into a typed
// Renderer at template-load time. Resolution happens exactly once per
// template; the pipeline never performs string-keyed dispatch at render
// time.
type RendererResolver interface {
	Resolve(ref string) (Renderer, error)
}

// ResolverFunc adapts a function to the RendererResolver interface.
type ResolverFunc func(ref string) (Renderer, error)

// Resolve implements RendererResolver.
func (f ResolverFunc) Resolve(ref string) (Renderer, error) { return f(ref) }
