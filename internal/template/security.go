package template

import (
	"fmt"
	"strings"
)

var dangerousTags = []string{"script", "object", "embed", "iframe", "form"}

// ValidateHTMLSecurity flags risky constructs in HTML content. It is a coarse
// substring heuristic and reports only; the content is not modified.
func ValidateHTMLSecurity(html string) SecurityReport {
	report := SecurityReport{Issues: []string{}}
	lower := strings.ToLower(html)

	for _, tag := range dangerousTags {
		if strings.Contains(lower, "<"+tag) {
			report.Issues = append(report.Issues, fmt.Sprintf("contains potentially dangerous <%s> tag", tag))
		}
	}

	if strings.Contains(lower, "javascript:") {
		report.Issues = append(report.Issues, "contains javascript: URL")
	}

	if strings.Contains(lower, "src=") && strings.Contains(lower, "http") {
		report.Issues = append(report.Issues, "references external resources, check they are trusted")
	}

	report.IsSecure = len(report.Issues) == 0
	return report
}
