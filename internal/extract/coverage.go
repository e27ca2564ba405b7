package extract

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	transitionsMarker  = "Transitions"
	detailsStartMarker = "State, Transition and Sequence Details"
	detailsEndMarker   = "Branch Coverage for Module"
	arrowToken         = "->"
)

// CoverageSummary is the transition coverage pulled from a report.
type CoverageSummary struct {
	// Percent is only meaningful when Known is true.
	Percent float64
	Known   bool
	// ParseErr is set when the first "Transitions" line carried a token that
	// is not a number. Percent stays unknown in that case.
	ParseErr error
	// Uncovered lists the transition lines from the details section as
	// "<transition> <status...>".
	Uncovered []string
}

// MeetsTarget reports whether a known percentage reaches target. An unknown
// percentage never meets any target.
func (s CoverageSummary) MeetsTarget(target float64) bool {
	return s.Known && s.Percent >= target
}

// String renders the percentage, or "unknown".
func (s CoverageSummary) String() string {
	if !s.Known {
		return "unknown"
	}
	return strconv.FormatFloat(s.Percent, 'f', 2, 64) + "%"
}

// SummarizeCoverage scans reportText line by line. The first line containing
// "Transitions" supplies the percentage (its last token, '%' stripped); later
// ones are ignored. Lines with "->" inside the details section are collected.
func SummarizeCoverage(reportText string) CoverageSummary {
	var (
		summary    CoverageSummary
		sawPercent bool
		capturing  bool
	)
	scanner := bufio.NewScanner(strings.NewReader(reportText))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !sawPercent && strings.Contains(line, transitionsMarker) {
			sawPercent = true
			summary.Percent, summary.Known, summary.ParseErr = parsePercentToken(line)
		}
		if strings.Contains(line, detailsStartMarker) {
			capturing = true
		} else if strings.Contains(line, detailsEndMarker) {
			capturing = false
		}
		if capturing && strings.Contains(line, arrowToken) {
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				summary.Uncovered = append(summary.Uncovered, parts[0]+" "+strings.Join(parts[2:], " "))
			}
		}
	}
	return summary
}

// SummarizeCoverageFile reads the report at path. A missing report yields an
// unknown percentage and no transitions.
func SummarizeCoverageFile(path string) (CoverageSummary, error) {
	text, err := ReadOptional(path)
	if err != nil {
		return CoverageSummary{}, err
	}
	return SummarizeCoverage(text), nil
}

func parsePercentToken(line string) (float64, bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return 0, false, fmt.Errorf("extract: empty transitions line")
	}
	token := strings.Trim(parts[len(parts)-1], "%")
	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false, fmt.Errorf("extract: transitions percent %q: %w", parts[len(parts)-1], err)
	}
	return value, true, nil
}

// CoverageItem is one uncovered source region.
type CoverageItem struct {
	File        string
	LineStart   int
	LineEnd     int
	Description string
}

var notCoveredPattern = regexp.MustCompile(`\[Not Covered\]\s+file:\s*(\S+)\s*line:(\d+)(?:[-‑](\d+))?\s*(.*)`)

// CoverageItems parses "[Not Covered] file: <f> line:<a>-<b> <desc>" lines.
func CoverageItems(reportText string) []CoverageItem {
	var items []CoverageItem
	for _, line := range strings.Split(reportText, "\n") {
		m := notCoveredPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		start, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		end := start
		if m[3] != "" {
			if parsed, err := strconv.Atoi(m[3]); err == nil {
				end = parsed
			}
		}
		desc := strings.TrimSpace(m[4])
		if desc == "" {
			desc = "code-coverage"
		}
		items = append(items, CoverageItem{File: m[1], LineStart: start, LineEnd: end, Description: desc})
	}
	return items
}

// Excerpt returns the source lines of item (at most maxLines past the first),
// prefixed with a location header and annotated after the first line with a
// TO_BE_COVERED comment. Relative item paths resolve against baseDir.
func Excerpt(item CoverageItem, baseDir string, maxLines int) (string, error) {
	path := item.File
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: excerpt %s: %w", path, err)
	}
	lines := strings.SplitAfter(string(data), "\n")
	start := item.LineStart
	if start < 1 {
		start = 1
	}
	end := item.LineEnd
	if maxLines > 0 && end > start+maxLines {
		end = start + maxLines
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("extract: excerpt %s: lines %d-%d out of range", path, item.LineStart, item.LineEnd)
	}
	snippet := strings.Join(lines[start-1:end], "")
	annotated := strings.Replace(snippet, "\n", "\n// TO_BE_COVERED: "+item.Description+"\n", 1)
	header := fmt.Sprintf("// File: %s Lines %d-%d\n", filepath.Base(path), item.LineStart, item.LineEnd)
	return header + annotated, nil
}
