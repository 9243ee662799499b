package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

const (
	rightsRetainedByAuthor = "Copyright retained by author(s)"
	dateIssuedLayout       = "2006-01"
	thesisType             = "Thesis"
)

// rights is the copyright statement triple emitted by every metadata format.
type rights struct {
	Statement string
	Holder    string
	URL       string
}

// rightsStatement applies the copyright policy: a third-party holder is named,
// an author-held thesis with a license reports the license, anything else gets
// the author copyright statement. Both metadata builders call this so their
// rights fields cannot drift apart.
func rightsStatement(thesis *models.Thesis) (rights, bool) {
	c := thesis.Copyright
	if c == nil {
		return rights{}, false
	}
	switch {
	case c.Holder != models.CopyrightHolderAuthor:
		return rights{
			Statement: c.StatementDSpace,
			Holder:    fmt.Sprintf("Copyright %s", c.Holder),
			URL:       deref(c.URL),
		}, true
	case thesis.License != nil:
		return rights{
			Statement: thesis.License.DisplayDescription,
			Holder:    rightsRetainedByAuthor,
			URL:       deref(thesis.License.URL),
		}, true
	default:
		return rights{
			Statement: c.StatementDSpace,
			Holder:    rightsRetainedByAuthor,
			URL:       deref(c.URL),
		}, true
	}
}

// FormatCourseCode normalises a registrar course code: all-digit codes are
// zero padded to two digits and prefixed, other codes starting with a digit are
// prefixed as-is, and anything else is returned unchanged.
func FormatCourseCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return code
	}
	if isAllDigits(code) {
		if len(code) < 2 {
			code = "0" + code
		}
		return "Course_" + code
	}
	if unicode.IsDigit(rune(code[0])) {
		return "Course_" + code
	}
	return code
}

// DepartmentAIC is the archival information collection a department's theses
// are filed under.
func DepartmentAIC(code string) string {
	return fmt.Sprintf("AIC#%s_theses", FormatCourseCode(code))
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func handleURL(base, handle string) string {
	if handle == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(handle, "/")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
