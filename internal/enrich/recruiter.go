package enrich

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/outreach-cli/internal/model"
)

var recruiterKeywords = []string{
	"recruiter",
	"recruiting",
	"talent acquisition",
	"talent partner",
	"headhunter",
	"staffing",
	"sourcer",
	"executive search",
}

// legalSuffixes are stripped from the end of a folded organization name.
var legalSuffixes = []string{
	"llc", "inc", "incorporated", "corp", "corporation", "ltd", "limited",
	"lp", "llp", "plc", "gmbh", "ag", "sa", "bv", "co", "company", "pllc",
}

var multiSpaceRe = regexp.MustCompile(`\s+`)

// foldText NFKC-normalizes and case-folds s, maps punctuation to spaces, and
// collapses whitespace.
func foldText(s string) string {
	// Casers are stateful, so each call gets its own.
	s = cases.Fold().String(norm.NFKC.String(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '&':
			return ' '
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if r == '.' || r == '\'' {
				return -1
			}
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// CanonicalOrganization folds name for comparison and drops trailing legal
// suffixes, so "Acme, Inc." and "ACME" compare equal. Placeholders
// canonicalize to "".
func CanonicalOrganization(name string) string {
	if name == model.PlaceholderOrganization {
		return ""
	}
	words := strings.Fields(foldText(name))
	for len(words) > 1 && isLegalSuffix(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isLegalSuffix(w string) bool {
	for _, s := range legalSuffixes {
		if w == s {
			return true
		}
	}
	return false
}

// SameOrganization reports whether a and b name the same organization after
// canonicalization. Containment counts as a match ("Acme" vs "Acme Cloud").
// An unknown side never matches.
func SameOrganization(a, b string) bool {
	ca, cb := CanonicalOrganization(a), CanonicalOrganization(b)
	if ca == "" || cb == "" {
		return false
	}
	if ca == cb {
		return true
	}
	return containsWords(ca, cb) || containsWords(cb, ca)
}

// containsWords reports whether needle appears in hay on word boundaries.
func containsWords(hay, needle string) bool {
	return strings.Contains(" "+hay+" ", " "+needle+" ")
}

// HasRecruiterKeyword reports whether headline mentions a recruiting role.
func HasRecruiterKeyword(headline string) bool {
	h := " " + foldText(headline) + " "
	for _, kw := range recruiterKeywords {
		if strings.Contains(h, " "+kw) {
			return true
		}
	}
	return false
}

// IsExternalRecruiter reports whether a contact looks like a recruiter working
// for someone other than the hiring organization: the headline carries a
// recruiting keyword and recruiterOrg is not jobOrg.
func IsExternalRecruiter(headline, recruiterOrg, jobOrg string) bool {
	if !HasRecruiterKeyword(headline) {
		return false
	}
	return !SameOrganization(recruiterOrg, jobOrg)
}
