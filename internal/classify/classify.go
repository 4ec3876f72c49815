// Package classify reads outcome markers and structured blocks out of
// operation output. Text markers are the source of truth: exit statuses of
// multi-host runs are never used to infer success.
package classify

import (
	"regexp"
	"sort"
	"strings"
)

// Markers written by the deploy and rollback reports.
const (
	DeploySucceeded = "**** Deployment Successful ****"
	DeployFailed    = "**** Deployment Failed ****"

	VerifySucceeded = "** SUCCESS **"
	VerifyFailed    = "** FAILURE **"

	DatesHeader    = "Current/Restorable Dates/Times:"
	VersionsHeader = "Current/Restorable Versions:"

	// None stands in for a missing release or version.
	None = "[NONE]"

	RollbackSucceeded = "Rollback successful"
	ErrorMarker       = "***ERROR"
)

// Outcome is the verdict read from a report.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
	Error   Outcome = "error"
	Unknown Outcome = "unknown"
)

// Verdict is the consistency line of a verification report.
type Verdict int

const (
	VerdictMissing Verdict = iota
	VerdictSuccess
	VerdictFailure
)

// Trigger is a line that would make the deploy tool roll back.
type Trigger struct {
	Line   int // 1-based
	Marker string
	Text   string
}

// Pair is what one host reports in a dates or versions block: the current
// (deletable) entry and the one a rollback would restore.
type Pair struct {
	Current    string
	Restorable string
}

// Valid reports whether both entries are present.
func (p Pair) Valid() bool {
	return p.Current != "" && p.Restorable != "" && p.Current != None && p.Restorable != None
}

// Result is everything Classify found.
type Result struct {
	Outcome  Outcome
	Triggers []Trigger
	Verdict  Verdict

	Dates    map[string]Pair
	Versions map[string]Pair
}

type triggerRule struct {
	marker string
	re     *regexp.Regexp
}

var triggerRules = []triggerRule{
	{"fatal", regexp.MustCompile(`(?i)fatal`)},
	{"permission denied", regexp.MustCompile(`(?i)permission denied`)},
	{"rolling back", regexp.MustCompile(`(?i)rolling back`)},
	{"Failed:", regexp.MustCompile(`(?i)failed:`)},
	{"ERROR:", regexp.MustCompile(`(?i)error:`)},
	{ErrorMarker, regexp.MustCompile(`\*\*\*ERROR`)},
}

// TriggerIn returns the rollback marker found in line, if any.
func TriggerIn(line string) (string, bool) {
	for _, r := range triggerRules {
		if r.re.MatchString(line) {
			return r.marker, true
		}
	}
	return "", false
}

// Classify scans raw report text.
func Classify(raw string) Result {
	return Lines(strings.Split(raw, "\n"))
}

// Lines classifies a report given as lines.
func Lines(lines []string) Result {
	res := Result{
		Outcome:  Unknown,
		Dates:    map[string]Pair{},
		Versions: map[string]Pair{},
	}

	var succeeded, failed bool
	var block map[string]Pair

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == DatesHeader:
			block = res.Dates
			continue
		case trimmed == VersionsHeader:
			block = res.Versions
			continue
		case trimmed == "":
			block = nil
			continue
		}

		if block != nil {
			if host, pair, ok := parsePairLine(trimmed); ok {
				block[host] = pair
			}
			continue
		}

		switch {
		case strings.Contains(line, DeploySucceeded):
			succeeded = true
		case strings.Contains(line, DeployFailed):
			failed = true
		case strings.HasPrefix(trimmed, VerifySucceeded):
			res.Verdict = VerdictSuccess
		case strings.HasPrefix(trimmed, VerifyFailed):
			res.Verdict = VerdictFailure
		}

		if marker, ok := TriggerIn(line); ok {
			res.Triggers = append(res.Triggers, Trigger{Line: i + 1, Marker: marker, Text: trimmed})
		}
	}

	switch {
	case failed:
		res.Outcome = Failure
	case succeeded:
		res.Outcome = Success
	case len(res.Triggers) > 0:
		res.Outcome = Error
	}
	return res
}

// parsePairLine reads "host: current restorable".
func parsePairLine(line string) (string, Pair, bool) {
	host, rest, ok := strings.Cut(line, ":")
	if !ok {
		return "", Pair{}, false
	}
	fields := strings.Fields(rest)
	if host = strings.TrimSpace(host); host == "" || len(fields) != 2 {
		return "", Pair{}, false
	}
	return host, Pair{Current: fields[0], Restorable: fields[1]}, true
}

// FormatBlock renders a dates or versions block as Lines parses it.
func FormatBlock(header string, pairs map[string]Pair) []string {
	hosts := make([]string, 0, len(pairs))
	for h := range pairs {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	out := []string{header}
	for _, h := range hosts {
		p := pairs[h]
		out = append(out, "  "+h+": "+orNone(p.Current)+" "+orNone(p.Restorable))
	}
	return append(out, "")
}

func orNone(s string) string {
	if s == "" {
		return None
	}
	return s
}

// Consistent reports whether every host reports the same valid pair.
// A single host with a valid pair is consistent; no hosts is not.
func Consistent(pairs map[string]Pair) bool {
	if len(pairs) == 0 {
		return false
	}
	var first *Pair
	for _, p := range pairs {
		if !p.Valid() {
			return false
		}
		if first == nil {
			p := p
			first = &p
			continue
		}
		if p != *first {
			return false
		}
	}
	return true
}
