package validation

import (
	"fmt"
	"regexp"

	"github.com/stencilkit/stencil/internal/registry"
	"github.com/stencilkit/stencil/internal/types"
)

// Template IDs follow the same shape as Go identifiers with dashes and
// dots allowed, so they stay usable in paths and logs.
var idPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)

// ValidateTemplate runs the lightweight per-template well-formedness
// check used to reject malformed entries before they enter the
// dependency graph. Structural checks across templates belong to
// ValidateDependencies.
func (v *DependencyValidator) ValidateTemplate(tmpl *types.Template) types.ValidationResult {
	result := types.ValidationResult{IsValid: true}

	if tmpl == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "template is nil")
		return result
	}

	if tmpl.ID == "" {
		result.IsValid = false
		result.Errors = append(result.Errors, "template id is empty")
	} else if !idPattern.MatchString(tmpl.ID) {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("template id %q is malformed", tmpl.ID))
	}

	if err := registry.ValidatePattern(tmpl.TargetPathPattern); err != nil {
		result.IsValid = false
		result.Errors = append(result.Errors, err.Error())
	}

	if tmpl.Renderer == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "template has no renderer capability")
	}

	if len(tmpl.Source) == 0 {
		result.Warnings = append(result.Warnings, "template source is empty")
	}

	for _, dep := range tmpl.DependsOn {
		if dep == tmpl.ID {
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("template %q depends on itself", tmpl.ID))
		}
	}

	result.ComplexityEstimate = estimateComplexity(tmpl)
	return result
}

// estimateComplexity scores a template by source size and fan-in. The
// score is advisory, used for reporting and scheduling hints only.
func estimateComplexity(tmpl *types.Template) int {
	score := len(tmpl.Source) / 1024
	score += len(tmpl.DependsOn) * 2
	if score < 1 {
		score = 1
	}
	return score
}
