package governance

import "github.com/jward/canon/internal/extract"

// Score is the built-in cut-analysis score in [0, 1].
func Score(c *Component) float64 {
	s := 0.5
	if c.Has(extract.DirectiveExtract) || c.Has(extract.DirectiveServiceCandidate) {
		s += 0.3
	}
	if c.Has(extract.DirectiveDoNotExtract) {
		s -= 0.6
	}
	if len(c.Globals) == 0 {
		s += 0.1
	}
	if c.FanOut > 2 {
		s -= 0.05 * float64(c.FanOut-2)
	}
	if c.FanIn > 3 {
		s -= 0.05 * float64(c.FanIn-3)
	}
	if c.OnCycle {
		s -= 0.2
	}
	return min(max(s, 0), 1)
}
