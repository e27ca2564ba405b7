package extract

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// ErrHeaderNotFound is returned by ModuleSpan when the header literal is absent.
var ErrHeaderNotFound = errors.New("extract: module header not found")

const closingKeyword = "endmodule"

var (
	plainModulePattern  = regexp.MustCompile(`(?s)\bmodule\b\s+\w+\s*\([^)]*\)\s*;.*?\bendmodule\b`)
	paramModulePattern  = regexp.MustCompile(`(?s)\bmodule\b\s+\w+\s*#\s*\([^)]*\)\s*\([^)]*\)\s*;.*?\bendmodule\b`)
	moduleDeclPattern   = regexp.MustCompile(`(?s)\bmodule\s+([A-Za-z_]\w*)\s*(#\s*\([^;]*?\))?\s*\((.*?)\)\s*;`)
	codeBlockCandidates = []*regexp.Regexp{plainModulePattern, paramModulePattern}
)

// CodeBlocks returns every module...endmodule block in text, in source order.
// Fenced markup is not required: model output often drops the fences.
func CodeBlocks(text string) []string {
	type span struct{ start, end int }
	var spans []span
	for _, pattern := range codeBlockCandidates {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start == spans[j].start {
			return spans[i].end > spans[j].end
		}
		return spans[i].start < spans[j].start
	})
	blocks := make([]string, 0, len(spans))
	lastEnd := -1
	for _, s := range spans {
		if s.start < lastEnd {
			continue
		}
		blocks = append(blocks, text[s.start:s.end])
		lastEnd = s.end
	}
	return blocks
}

// JoinBlocks renders blocks as a single source file, one block per chunk.
func JoinBlocks(blocks []string) string {
	var b strings.Builder
	for _, block := range blocks {
		b.WriteString(block)
		b.WriteString("\n")
	}
	return b.String()
}

// ModuleSpan returns text from header through the next "endmodule"
// (inclusive), or through the end of text when no closing keyword follows.
func ModuleSpan(text, header string) (string, error) {
	start := strings.Index(text, header)
	if start < 0 {
		return "", ErrHeaderNotFound
	}
	rest := text[start:]
	end := strings.Index(rest, closingKeyword)
	if end < 0 {
		return rest, nil
	}
	return rest[:end+len(closingKeyword)], nil
}

// DUT describes the first module declared in a design source.
type DUT struct {
	Name string
	// Header is the declaration rebuilt from its parameter and port lists.
	Header string
}

// ParseDUT finds the first module declaration in rtl.
func ParseDUT(rtl string) (DUT, bool) {
	m := moduleDeclPattern.FindStringSubmatch(rtl)
	if m == nil {
		return DUT{}, false
	}
	return DUT{
		Name:   m[1],
		Header: "module " + m[1] + " " + m[2] + "(" + m[3] + ");",
	}, true
}
