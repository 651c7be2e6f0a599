package alerts

import "time"

// rateWindow is the span the *_per_min metrics are counted over.
const rateWindow = time.Minute

type sample struct {
	at    time.Time
	table string
}

// rates is a point-in-time count of one org's events within rateWindow.
type rates struct {
	total   int
	byTable map[string]int
}

// orgWindow holds one org's event arrivals, oldest first.
type orgWindow struct {
	samples []sample
}

func (w *orgWindow) add(at time.Time, table string) {
	w.samples = append(w.samples, sample{at: at, table: table})
}

// prune drops samples older than rateWindow before now.
func (w *orgWindow) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(w.samples) && !w.samples[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

func (w *orgWindow) rates() rates {
	r := rates{total: len(w.samples), byTable: make(map[string]int)}
	for _, s := range w.samples {
		r.byTable[s.table]++
	}
	return r
}
