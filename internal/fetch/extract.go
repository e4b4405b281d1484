package fetch

import (
	"fmt"
	"strings"

	"github.com/tonimelisma/layoutstats/internal/metric"
)

// PageData is what the fetcher reads from a rendered playground page.
type PageData struct {
	// PinkyOff is the pinky-off percentage computed from page globals, or
	// empty when the globals were missing.
	PinkyOff string

	// Trigrams maps trigram category names to their share in percent.
	Trigrams map[string]float64

	// Body is the visible text of the page.
	Body string
}

// trigramMetrics maps trigram category names, as the page labels them, to
// metric names.
var trigramMetrics = map[string]string{
	"bigram roll in":  "bigram_roll_in",
	"bigram roll out": "bigram_roll_out",
	"roll in":         "roll_in",
	"roll out":        "roll_out",
	"redirect":        "redirect",
	"weak redirect":   "weak_redirect",
	"alt":             "alt",
	"alternate":       "alt",
	"alt sfs":         "alt_sfs",
	"alternate sfs":   "alt_sfs",
}

// Extract builds a bundle holding every name in required. Metrics the page
// did not yield are null, which leaves the slot invalid.
func Extract(p PageData, required []string) metric.Bundle {
	found := ParseText(p.Body)

	if p.PinkyOff != "" {
		found["pinky_off"] = p.PinkyOff
	}

	for label, pct := range p.Trigrams {
		if name, ok := trigramMetrics[strings.ToLower(strings.TrimSpace(label))]; ok {
			found[name] = fmt.Sprintf("%.2f%%", pct)
		}
	}

	values := make(map[string]*string, len(required))

	for _, name := range required {
		if v, ok := found[name]; ok {
			values[name] = &v
		} else {
			values[name] = nil
		}
	}

	return metric.FromStrings(values)
}

// ParseText reads metrics from the page's visible text, one statistic per
// line. Only the first occurrence of each metric counts.
func ParseText(body string) map[string]string {
	out := make(map[string]string)

	set := func(name, value string) {
		if value == "" {
			return
		}

		if _, ok := out[name]; !ok {
			out[name] = value
		}
	}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)

		switch {
		case strings.HasPrefix(line, "Total Word Effort"):
			if len(fields) >= 4 {
				set("total_word_effort", fields[3])
			}
		case strings.HasPrefix(line, "Effort"):
			if len(fields) >= 2 {
				set("effort", fields[1])
			}
		case strings.Contains(line, "Same Finger Bigrams"):
			set("same_finger_bigrams", firstPercent(fields))
		case strings.HasPrefix(line, "Skip Bigrams 2u"):
			set("skip_bigrams_2u", firstPercent(fields))
		case strings.HasPrefix(line, "Skip Bigrams"):
			pcts := percents(fields)
			if len(pcts) > 0 {
				set("skip_bigrams_1u", pcts[0])
			}

			if len(pcts) > 1 {
				set("skip_bigrams_2u", pcts[1])
			}
		case strings.Contains(line, "Lat Stretch Bigrams"), strings.Contains(line, "Lateral Stretch"):
			set("lat_stretch_bigrams", firstPercent(fields))
		case strings.HasPrefix(line, "Scissors"):
			set("scissors", firstPercent(fields))
		case strings.HasPrefix(line, "Alt SFS"), strings.HasPrefix(line, "Alternate SFS"):
			set("alt_sfs", firstPercent(fields))
		case strings.HasPrefix(line, "Alt "), strings.HasPrefix(line, "Alternate "):
			set("alt", firstPercent(fields))
		}
	}

	return out
}

func percents(fields []string) []string {
	var out []string

	for _, f := range fields {
		if strings.Contains(f, "%") {
			out = append(out, f)
		}
	}

	return out
}

func firstPercent(fields []string) string {
	if p := percents(fields); len(p) > 0 {
		return p[0]
	}

	return ""
}
