package formatter

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff between text and its formatted form. It is
// empty when text is already formatted.
func Diff(name, text string) (string, error) {
	formatted := FormatText(text)
	if formatted == text {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(text),
		B:        difflib.SplitLines(formatted),
		FromFile: name,
		ToFile:   name + " (formatted)",
		Context:  3,
	})
}
