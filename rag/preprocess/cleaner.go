package preprocess

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// noiseLineMax is the longest line RemoveWebNoise will drop; longer lines are
// treated as content even when they mention a boilerplate phrase.
const noiseLineMax = 120

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reTags     = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)

	noisePhrases = []string{
		"accept cookies", "cookie policy", "privacy policy", "all rights reserved",
		"subscribe to our newsletter", "advertisement", "sign up for free", "skip to content",
		"read more", "click here",
	}

	typography = strings.NewReplacer(
		"ﬁ", "fi", "ﬂ", "fl",
		"—", "-", "–", "-",
		"‘", "'", "’", "'", "“", `"`, "”", `"`,
		"…", "...", " ", " ", "​", "",
	)
)

// Step transforms evidence text.
type Step func(string) string

// Chain runs steps in order.
func Chain(steps ...Step) Step {
	return func(text string) string {
		for _, step := range steps {
			text = step(text)
		}
		return text
	}
}

// Preprocess is the cleanup applied to retrieved evidence before it reaches a
// prompt: snippet markup, typography, boilerplate and repeated paragraphs go.
var Preprocess = Chain(StripMarkup, CleanBasic, RemoveWebNoise, RemoveDuplicateParagraphs)

// CleanBasic removes control characters, normalises typography and collapses
// redundant whitespace.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}
	text = strings.Map(func(r rune) rune {
		if r != '\n' && r != '\t' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = typography.Replace(text)
	text = strings.ReplaceAll(text, "\r", "")
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// StripMarkup removes inline tags such as the <b> highlights search engines
// put in snippets and decodes HTML entities. Whole pages should go through
// HTMLToText instead.
func StripMarkup(text string) string {
	if strings.ContainsRune(text, '<') {
		text = reTags.ReplaceAllString(text, "")
	}
	if strings.ContainsRune(text, '&') {
		text = html.UnescapeString(text)
	}
	return text
}

// HTMLToText extracts readable content from an HTML page as light Markdown,
// keeping headings, paragraphs, list items, code and tables.
func HTMLToText(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,noscript,nav,footer,aside,form").Remove()

	var blocks []string
	doc.Find("h1,h2,h3,h4,p,li,pre,table,blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			text = "# " + text
		case "h2":
			text = "## " + text
		case "h3", "h4":
			text = "### " + text
		case "li":
			text = "- " + text
		case "blockquote":
			text = "> " + text
		case "pre":
			text = "```\n" + text + "\n```"
		case "table":
			text = tableToMarkdown(s)
		}
		blocks = append(blocks, text)
	})
	if len(blocks) == 0 {
		return CleanBasic(doc.Text()), nil
	}
	return strings.Join(blocks, "\n\n"), nil
}

func tableToMarkdown(table *goquery.Selection) string {
	var rows []string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th,td").Map(func(_ int, cell *goquery.Selection) string {
			return strings.TrimSpace(cell.Text())
		})
		if len(cells) > 0 {
			rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// RemoveDuplicateParagraphs drops repeated paragraphs, keeping the first
// occurrence. Paragraphs compare case-insensitively.
func RemoveDuplicateParagraphs(text string) string {
	seen := make(map[string]struct{})
	var kept []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, p)
	}
	return strings.Join(kept, "\n\n")
}

// RemoveWebNoise drops short lines made of site boilerplate.
func RemoveWebNoise(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !isNoise(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func isNoise(line string) bool {
	if len([]rune(line)) > noiseLineMax {
		return false
	}
	lower := strings.ToLower(line)
	for _, phrase := range noisePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
