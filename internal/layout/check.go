package layout

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Problem is one issue found in a definition by Check.
type Problem struct {
	Layout string `json:"layout"`
	Source string `json:"source"`
	Issue  string `json:"issue"`
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s (%s): %s", p.Layout, p.Source, p.Issue)
}

// Check inspects definitions for problems that loading tolerates but that a
// maintainer should fix: websites that are not links, links that do not
// parse as URLs, and years that are not plain numbers. Returns every
// problem found; nil means the definitions are clean.
func Check(defs []Definition) []Problem {
	var problems []Problem

	add := func(d *Definition, format string, args ...any) {
		problems = append(problems, Problem{
			Layout: d.Name,
			Source: d.Source,
			Issue:  fmt.Sprintf(format, args...),
		})
	}

	for i := range defs {
		d := &defs[i]

		if d.Website != "" && !validWebsite(d.Website) {
			add(d, "website %q must start with https://, http:// or www.", d.Website)
		}

		if _, err := url.Parse(d.Link); err != nil {
			add(d, "link does not parse: %v", err)
		}

		if !d.Year.IsZero() && !d.Year.numeric {
			add(d, "year %q is not a number", d.Year.String())
		}
	}

	return problems
}

// ProblemsError joins problems into a single error, or nil.
func ProblemsError(problems []Problem) error {
	errs := make([]error, len(problems))
	for i := range problems {
		errs[i] = problems[i]
	}

	return errors.Join(errs...)
}

func validWebsite(site string) bool {
	return strings.HasPrefix(site, "https://") ||
		strings.HasPrefix(site, "http://") ||
		strings.HasPrefix(site, "www.")
}
