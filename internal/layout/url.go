package layout

import (
	"net/url"
	"regexp"
	"strings"
)

// Query parameter names understood by the measurement page.
const (
	ParamMode     = "mode"
	ParamLanguage = "lan"
)

// Template placeholders. A link containing either is treated as a template
// and substituted instead of having its query rewritten.
const (
	PlaceholderMode     = "{mode}"
	PlaceholderLanguage = "{language}"
)

// URLMode maps a logical mode to the mode value the page understands.
// Modes without an alias are passed through.
func URLMode(mode string, aliases map[string]string) string {
	if alias, ok := aliases[mode]; ok && alias != "" {
		return alias
	}

	return mode
}

// ResolveURL returns the measurement URL for one mode and language. Links
// with placeholders are substituted. Plain links keep every existing query
// parameter in place; only the mode and language values are replaced, or
// appended when absent.
func ResolveURL(link, mode, language string, aliases map[string]string) string {
	urlMode := URLMode(mode, aliases)

	if strings.Contains(link, PlaceholderMode) || strings.Contains(link, PlaceholderLanguage) {
		r := strings.NewReplacer(
			PlaceholderMode, url.QueryEscape(urlMode),
			PlaceholderLanguage, url.QueryEscape(language),
		)

		return r.Replace(link)
	}

	out := SetQueryParam(link, ParamMode, urlMode)

	return SetQueryParam(out, ParamLanguage, language)
}

// SetQueryParam replaces the value of key in rawURL, or appends key=value
// when key is not present. The rest of the URL is left byte-for-byte as is;
// net/url would re-encode and reorder the layout parameter.
func SetQueryParam(rawURL, key, value string) string {
	base, fragment, hasFragment := strings.Cut(rawURL, "#")

	re := regexp.MustCompile(`([?&]` + regexp.QuoteMeta(key) + `=)[^&]*`)
	escaped := url.QueryEscape(value)

	var out string

	if loc := re.FindStringSubmatchIndex(base); loc != nil {
		out = base[:loc[3]] + escaped + base[loc[1]:]
	} else {
		switch {
		case !strings.Contains(base, "?"):
			out = base + "?" + key + "=" + escaped
		case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
			out = base + key + "=" + escaped
		default:
			out = base + "&" + key + "=" + escaped
		}
	}

	if hasFragment {
		out += "#" + fragment
	}

	return out
}
