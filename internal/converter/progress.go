package converter

import "io"

// uploadProgressCeiling is the highest percentage the transfer ratio maps
// to. The remainder is reserved for server-side processing so the bar never
// sits at 100 before the result exists.
const uploadProgressCeiling = 80

// pollProgressCeiling caps the liveness nudges applied while a background
// job is polled.
const pollProgressCeiling = 95

// progressReader reports the transfer completion ratio of the wrapped body,
// scaled to [0, uploadProgressCeiling].
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report func(percent int)
	last   int
}

func newProgressReader(r io.Reader, total int64, report func(percent int)) *progressReader {
	return &progressReader{r: r, total: total, report: report, last: -1}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.report != nil && p.total > 0 {
			percent := int(p.sent * uploadProgressCeiling / p.total)
			if percent > uploadProgressCeiling {
				percent = uploadProgressCeiling
			}
			if percent != p.last {
				p.last = percent
				p.report(percent)
			}
		}
	}
	return n, err
}
