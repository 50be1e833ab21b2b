// Package script checks that generated primary content is written in Han
// characters. The check is a tunable quality signal and never blocks a turn.
package script

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"
)

// vietnameseMarks are the lowercase Vietnamese letters that never occur in
// plain ASCII or pinyin without tone marks being mixed in.
const vietnameseMarks = "áàảãạăắằẳẵặâấầẩẫậéèẻẽẹêếềểễệíìỉĩịóòỏõọôốồổỗộơớờởỡợúùủũụưứừửữựýỳỷỹỵđ"

// Report describes which scripts appear in a text.
type Report struct {
	HasChinese    bool
	HasLatin      bool
	HasVietnamese bool
	HanRunes      int
	TotalRunes    int
}

// Violation reports wrong-script output: no Han characters, or any Latin or
// Vietnamese letters mixed in.
func (r Report) Violation() bool {
	return !r.HasChinese || r.HasLatin || r.HasVietnamese
}

// Reason is a short label for logs.
func (r Report) Reason() string {
	var parts []string
	if !r.HasChinese {
		parts = append(parts, "no_han")
	}
	if r.HasLatin {
		parts = append(parts, "latin")
	}
	if r.HasVietnamese {
		parts = append(parts, "vietnamese")
	}
	if len(parts) == 0 {
		return "ok"
	}
	return strings.Join(parts, ",")
}

func isHan(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func isLatin(r rune) bool {
	r |= 0x20
	return r >= 'a' && r <= 'z'
}

// Inspect scans text once.
func Inspect(text string) Report {
	rep := Report{TotalRunes: utf8.RuneCountInString(text)}
	for _, r := range text {
		switch {
		case isHan(r):
			rep.HasChinese = true
			rep.HanRunes++
		case isLatin(r):
			rep.HasLatin = true
		case strings.ContainsRune(vietnameseMarks, unicode.ToLower(r)):
			rep.HasVietnamese = true
		}
	}
	return rep
}

// Monitor counts inspections and violations for the health endpoint.
type Monitor struct {
	checked    atomic.Int64
	violations atomic.Int64
}

// Observe inspects text and records the outcome.
func (m *Monitor) Observe(text string) Report {
	rep := Inspect(text)
	m.checked.Add(1)
	if rep.Violation() {
		m.violations.Add(1)
	}
	return rep
}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Checked    int64 `json:"checked"`
	Violations int64 `json:"violations"`
}

func (m *Monitor) Stats() Stats {
	return Stats{Checked: m.checked.Load(), Violations: m.violations.Load()}
}
