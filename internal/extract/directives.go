package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Directive names.
const (
	DirectiveExtract          = "extract"
	DirectivePure             = "pure"
	DirectiveIOBoundary       = "io_boundary"
	DirectiveServiceCandidate = "service_candidate"
	DirectiveDoNotExtract     = "do_not_extract"
	DirectiveOrchestrator     = "orchestrator"
)

var directiveVocabulary = map[string]bool{
	DirectiveExtract:          true,
	DirectivePure:             true,
	DirectiveIOBoundary:       true,
	DirectiveServiceCandidate: true,
	DirectiveDoNotExtract:     true,
	DirectiveOrchestrator:     true,
}

var (
	directiveRe  = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_-]*)(?:\(([^)]*)\))?`)
	confidenceRe = regexp.MustCompile(`confidence\s*=\s*([0-9]*\.?[0-9]+)`)
)

type lineComment struct {
	text string
	line int
}

// parseDirectives matches comments against the directive vocabulary.
// Unknown names are ignored and each name is kept once.
func parseDirectives(comments []lineComment) []Directive {
	var out []Directive
	seen := make(map[string]bool)
	for _, c := range comments {
		for _, m := range directiveRe.FindAllStringSubmatch(c.text, -1) {
			name := strings.ReplaceAll(strings.ToLower(m[1]), "-", "_")
			if !directiveVocabulary[name] || seen[name] {
				continue
			}
			seen[name] = true
			d := Directive{Name: name, Confidence: 1.0, Payload: strings.TrimSpace(m[2]), Line: c.line}
			if cm := confidenceRe.FindStringSubmatch(m[2]); cm != nil {
				if v, err := strconv.ParseFloat(cm[1], 64); err == nil && v >= 0 && v <= 1 {
					d.Confidence = v
				}
			}
			out = append(out, d)
		}
	}
	return out
}
