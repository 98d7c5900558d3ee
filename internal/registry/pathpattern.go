package registry

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/stencilkit/stencil/internal/types"
)

// Target-path patterns may carry naming tokens expanded against the
// project name, e.g. "src/{snake}/model.go" or "{plural}/index.ts".
var tokenPattern = regexp.MustCompile(`\{([a-z]+)\}`)

// ResolveTargetPath expands the pattern's naming tokens against the
// generator context and joins the result under the project output root.
func ResolveTargetPath(pattern string, gctx *types.GeneratorContext) (string, error) {
	if pattern == "" {
		return "", fmt.Errorf("empty target path pattern")
	}

	name := gctx.Project.Name
	var badToken string
	resolved := tokenPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		token := strings.Trim(match, "{}")
		value, ok := expandToken(token, name)
		if !ok {
			badToken = token
			return match
		}
		return value
	})
	if badToken != "" {
		return "", fmt.Errorf("unknown target path token {%s} in %q", badToken, pattern)
	}

	cleaned := path.Clean(resolved)
	if strings.HasPrefix(cleaned, "..") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("target path %q escapes the output root", pattern)
	}

	return path.Join(gctx.Project.OutputRoot, cleaned), nil
}

// ValidatePattern checks that the pattern only uses known tokens and does
// not escape the output root. Used by the per-template validation pass
// before scheduling.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty target path pattern")
	}
	for _, match := range tokenPattern.FindAllStringSubmatch(pattern, -1) {
		if _, ok := expandToken(match[1], "probe"); !ok {
			return fmt.Errorf("unknown target path token {%s}", match[1])
		}
	}
	stripped := tokenPattern.ReplaceAllString(pattern, "x")
	cleaned := path.Clean(stripped)
	if strings.HasPrefix(cleaned, "..") || path.IsAbs(cleaned) {
		return fmt.Errorf("target path pattern %q escapes the output root", pattern)
	}
	return nil
}

func expandToken(token, name string) (string, bool) {
	switch token {
	case "name":
		return name, true
	case "snake":
		return inflect.Underscore(name), true
	case "camel":
		return inflect.CamelizeDownFirst(name), true
	case "pascal":
		return inflect.Camelize(name), true
	case "plural":
		return inflect.Pluralize(inflect.Underscore(name)), true
	case "singular":
		return inflect.Singularize(inflect.Underscore(name)), true
	case "dashed":
		return inflect.Dasherize(name), true
	default:
		return "", false
	}
}
