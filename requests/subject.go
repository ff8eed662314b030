package requests

import (
	"regexp"
	"strings"
	"time"
)

// DayOffSubjectPrefix starts every day-off subject.
const DayOffSubjectPrefix = "Day Off Request - "

var dayOffSubjectPattern = regexp.MustCompile(`Day Off Request - (\d{1,2} \w+ \d{4})`)

// Layouts accepted when reading a date back out of a subject. Older rows
// spell the month out in full.
var subjectDateLayouts = []string{"2 Jan 2006", "2 January 2006"}

// DayOffSubject renders the subject for a day-off request on d.
func DayOffSubject(d Day) string {
	return DayOffSubjectPrefix + d.Label()
}

// ExtractDayOffDate parses the date embedded in a day-off subject.
// The second result is false when the subject does not carry a valid date.
func ExtractDayOffDate(subject string) (Day, bool) {
	m := dayOffSubjectPattern.FindStringSubmatch(subject)
	if m == nil {
		return Day{}, false
	}
	for _, layout := range subjectDateLayouts {
		if t, err := time.Parse(layout, m[1]); err == nil {
			return DayOf(t), true
		}
	}
	return Day{}, false
}

// SubjectMentions reports whether subject embeds the label of d. This is the
// text match the legacy rows are counted by when they lack a typed date.
func SubjectMentions(subject string, d Day) bool {
	return strings.Contains(subject, d.Label())
}
