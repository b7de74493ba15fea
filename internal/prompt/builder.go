// Package prompt turns a task mode and backend settings into a system prompt
// and frames user text so it cannot escape its delimiters.
package prompt

import (
	"regexp"
	"strings"

	"proofduck/pkg/types"
)

// Classifier reports whether a model id names a small model that should get the
// minimal template family.
type Classifier func(modelID string) bool

// Builder builds prompts. The zero value uses SmallModel.
type Builder struct {
	Classify Classifier
}

// Prompt is the finished instruction for one request.
type Prompt struct {
	System string
	// Tiny is true when the minimal template family was selected.
	Tiny bool
}

// Build resolves the template for mode and substitutes tone, detail and
// language from cfg. It never fails: unknown values fall back to defaults.
func (b Builder) Build(mode types.Mode, cfg types.BackendConfig) Prompt {
	classify := b.Classify
	if classify == nil {
		classify = SmallModel
	}
	tiny := cfg.Kind.Local() && classify(cfg.ModelID)

	tone, ok := toneText[cfg.Tone]
	if !ok {
		tone = toneText[types.ToneProfessional]
	}
	detail, ok := detailText[cfg.Detail]
	if !ok {
		detail = detailText[types.DetailStandard]
	}
	r := strings.NewReplacer(
		"{tone}", tone,
		"{detail}", detail,
		"{lang}", ResolveLanguage(cfg.TargetLanguage),
	)

	if tiny {
		tpl, ok := tinyTemplates[mode]
		if !ok {
			tpl = tinyTemplates[types.ModeProofread]
		}
		return Prompt{System: r.Replace(tpl) + outputGuide, Tiny: true}
	}
	tpl, ok := fullTemplates[mode]
	if !ok {
		tpl = fullTemplates[types.ModeProofread]
	}
	return Prompt{System: directiveHeader + "\n" + r.Replace(tpl) + "\n" + securityConstraint}
}

// Build uses a zero Builder.
func Build(mode types.Mode, cfg types.BackendConfig) Prompt {
	return Builder{}.Build(mode, cfg)
}

// WrapUserInput delimits user text for this prompt.
func (Prompt) WrapUserInput(text string) string { return WrapUserInput(text) }

var sentinelRe = regexp.MustCompile(`(?i)<\s*(/?)\s*user_input\s*>`)

// WrapUserInput encloses text in <user_input> tags. Any sentinel tag already in
// the text is rewritten to a bracketed form so the wrapper's closing tag is the
// only one a model can see.
func WrapUserInput(text string) string {
	clean := sentinelRe.ReplaceAllString(text, "[${1}user_input]")
	return "<user_input>\n" + clean + "\n</user_input>"
}
