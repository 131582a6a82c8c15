// Package fingerprint flags device fingerprints shared by more than one
// submitter, a hint that one student may be submitting for others.
//
// Every result is computed from the submissions passed in; nothing is cached
// between calls. Two distinct names on one device are always flagged, even
// when they could be siblings sharing a computer.
package fingerprint

import (
	"sort"

	"github.com/educode/educode/internal/submission"
)

// LoggedInLabel is the display name of a submitter without a guest name.
const LoggedInLabel = "Logged-in student"

// DisplayName returns the name shown for a submission's author.
func DisplayName(s *submission.Submission) string {
	if s.GuestName != nil && *s.GuestName != "" {
		return *s.GuestName
	}
	return LoggedInLabel
}

// fingerprintOf returns the fingerprint and whether the submission has one.
func fingerprintOf(s *submission.Submission) (string, bool) {
	if s == nil || s.DeviceFingerprint == nil || *s.DeviceFingerprint == "" {
		return "", false
	}
	return *s.DeviceFingerprint, true
}

// SuspiciousFingerprints returns the fingerprints seen with two or more
// distinct display names.
func SuspiciousFingerprints(subs []*submission.Submission) map[string]struct{} {
	names := make(map[string]map[string]struct{})
	for _, s := range subs {
		fp, ok := fingerprintOf(s)
		if !ok {
			continue
		}
		if names[fp] == nil {
			names[fp] = make(map[string]struct{})
		}
		names[fp][DisplayName(s)] = struct{}{}
	}

	suspicious := make(map[string]struct{})
	for fp, set := range names {
		if len(set) >= 2 {
			suspicious[fp] = struct{}{}
		}
	}
	return suspicious
}

// Analysis is the collision result for one list of submissions.
type Analysis struct {
	suspicious map[string]struct{}
	names      map[string][]string
}

// Analyze groups the submissions by fingerprint.
func Analyze(subs []*submission.Submission) *Analysis {
	a := &Analysis{
		suspicious: SuspiciousFingerprints(subs),
		names:      make(map[string][]string),
	}
	for _, s := range subs {
		if fp, ok := fingerprintOf(s); ok {
			a.names[fp] = append(a.names[fp], DisplayName(s))
		}
	}
	return a
}

// IsSuspicious reports whether the submission's fingerprint is flagged.
// Submissions without a fingerprint are never suspicious.
func (a *Analysis) IsSuspicious(s *submission.Submission) bool {
	fp, ok := fingerprintOf(s)
	if !ok {
		return false
	}
	_, flagged := a.suspicious[fp]
	return flagged
}

// NamesFor returns every display name seen with the fingerprint in
// submission order, duplicates included.
func (a *Analysis) NamesFor(fp string) []string {
	names := a.names[fp]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Suspicious returns the flagged fingerprints, sorted.
func (a *Analysis) Suspicious() []string {
	out := make([]string, 0, len(a.suspicious))
	for fp := range a.suspicious {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}
