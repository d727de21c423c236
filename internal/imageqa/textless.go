package imageqa

import (
	"regexp"
	"strings"

	"github.com/pageforge/pageforge-api/internal/domain"
)

// typographyTerms match prompt wording that invites the model to render
// text: signage, labels, banners, logos and their variants.
var typographyTerms = regexp.MustCompile(
	`(?i)\b(?:signage|signs?|labels?|labelled|labeled|banners?|logos?|` +
		`lettering|inscriptions?|captions?|watermarks?|typography|texts?|` +
		`words?|writing|written)\b`)

// textDefectTerms match reviewer feedback that identifies rendered text as
// the problem with an image.
var textDefectTerms = regexp.MustCompile(
	`(?i)\b(?:texts?|words?|letters?|lettering|spelling|misspell\w*|` +
		`gibberish|typography|captions?|watermarks?|signage|signs?|labels?|` +
		`writing)\b`)

const textlessInstruction = "The image must contain no rendered text of " +
	"any kind: no words, letters, numbers, signage, labels, banners, " +
	"logos, watermarks, captions or typography anywhere in the frame."

// TextlessRewrite strips typography references from prompt and appends a
// hard ban on rendered text. The rewrite is a pure string transformation:
// the same prompt always yields the same variant, with no model call.
func TextlessRewrite(prompt string) string {
	cleaned := typographyTerms.ReplaceAllString(prompt, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return textlessInstruction
	}
	return cleaned + "\n\n" + textlessInstruction
}

// detectTextDefect reports whether any rejecting reviewer called out
// rendered text as the image's defect. Approving verdicts are ignored;
// praise that happens to mention text is not a defect.
func detectTextDefect(verdicts []domain.ReviewerVerdict) bool {
	for _, v := range verdicts {
		if v.Approved {
			continue
		}
		if textDefectTerms.MatchString(v.Feedback) {
			return true
		}
	}
	return false
}
