// Package citations derives deduplicated, ordered source citations from the
// chunks an answer was grounded on, with deep links into the published book.
package citations

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/openlearn-ai/bookbrain/internal/vectordb"
)

// Citation is one consolidated source shown to the student under an answer.
type Citation struct {
	Chapter       string   `json:"chapter"`
	Section       string   `json:"section"`
	URL           string   `json:"url"`
	ChunkCount    int      `json:"chunk_count"`
	ChunkIDs      []string `json:"chunk_ids"`
	MaxSimilarity float64  `json:"max_similarity"`
}

var (
	moduleNumRe  = regexp.MustCompile(`(?i)Module\s+(\d+)`)
	nonWordRe    = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRe = regexp.MustCompile(`[\s_]+`)
	hyphenRunRe  = regexp.MustCompile(`-+`)
	leadingNumRe = regexp.MustCompile(`^\d+-`)
)

// Slugify converts a section heading into its Docusaurus anchor: lowercase,
// punctuation stripped, runs of whitespace and hyphens collapsed to single
// hyphens. Slugify is idempotent.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonWordRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, "-")
	s = hyphenRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// buildURL maps a source file path to its published page plus the section
// anchor. "docs/chapters/module-0-foundations/04-locomotion-motor-control.md"
// with slug "locomotion-motor-control" becomes
// "/chapters/module-0-foundations/locomotion-motor-control#locomotion-motor-control".
func buildURL(sourceFile, slug string) string {
	if sourceFile == "" {
		return "#unknown-section"
	}
	p := strings.TrimPrefix(sourceFile, "docs/")
	p = strings.TrimSuffix(p, ".md")

	// Docusaurus drops the numeric ordering prefix from the final path
	// segment when generating routes.
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		p = p[:idx+1] + leadingNumRe.ReplaceAllString(p[idx+1:], "")
	} else {
		p = leadingNumRe.ReplaceAllString(p, "")
	}

	return "/" + strings.TrimPrefix(p, "/") + "#" + slug
}

// moduleNumber orders chapters like "Module 0 - Foundations" numerically.
// Chapters without a module prefix sort after all numbered ones.
func moduleNumber(chapter string) int {
	if m := moduleNumRe.FindStringSubmatch(chapter); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n
		}
	}
	return 999
}

type groupKey struct {
	chapter string
	section string
	slug    string
	file    string
}

// Build consolidates chunks into citations. Chunks sharing the same chapter,
// section, slug, and source file collapse into one citation carrying all
// member chunk IDs and the best similarity score. Output is ordered by
// module number, then chapter title.
func Build(points []vectordb.ScoredPoint) []Citation {
	order := make([]groupKey, 0, len(points))
	groups := make(map[groupKey]*Citation, len(points))

	for _, p := range points {
		chapter := p.PayloadString("chapter_title", "Unknown Chapter")
		section := p.PayloadString("section", "Unknown Section")
		file := p.PayloadString("source_file", "")
		slug := p.PayloadString("section_slug", "")
		if slug == "" {
			slug = Slugify(section)
		}

		key := groupKey{chapter: chapter, section: section, slug: slug, file: file}
		if c, ok := groups[key]; ok {
			c.ChunkCount++
			c.ChunkIDs = append(c.ChunkIDs, p.ID)
			if p.Score > c.MaxSimilarity {
				c.MaxSimilarity = p.Score
			}
			continue
		}
		groups[key] = &Citation{
			Chapter:       chapter,
			Section:       section,
			URL:           buildURL(file, slug),
			ChunkCount:    1,
			ChunkIDs:      []string{p.ID},
			MaxSimilarity: p.Score,
		}
		order = append(order, key)
	}

	out := make([]Citation, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := moduleNumber(out[i].Chapter), moduleNumber(out[j].Chapter)
		if ni != nj {
			return ni < nj
		}
		return out[i].Chapter < out[j].Chapter
	})
	return out
}
