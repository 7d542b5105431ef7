package transcoder

import (
	"strconv"
	"strings"
)

// maxRunningPercent is the ceiling for reports while the engine is still
// running. 100 is reserved for the completed state.
const maxRunningPercent = 99

// progressParser turns ffmpeg -progress key=value blocks into percent
// reports against a known duration.
type progressParser struct {
	durationUS float64
	outTimeUS  float64
	last       int
	report     func(int)
}

func newProgressParser(durationSeconds float64, report func(int)) *progressParser {
	return &progressParser{
		durationUS: durationSeconds * 1e6,
		last:       -1,
		report:     report,
	}
}

// Line consumes one line of -progress output.
func (p *progressParser) Line(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	// out_time_ms is also microseconds in ffmpeg's progress output.
	case "out_time_us", "out_time_ms":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v >= 0 {
			p.outTimeUS = v
		}
	case "progress":
		p.flush()
	}
}

func (p *progressParser) flush() {
	if p.durationUS <= 0 || p.report == nil {
		return
	}
	percent := int(p.outTimeUS / p.durationUS * 100)
	if percent > maxRunningPercent {
		percent = maxRunningPercent
	}
	if percent < 0 {
		percent = 0
	}
	if percent == p.last {
		return
	}
	p.last = percent
	p.report(percent)
}
