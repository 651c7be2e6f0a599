package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/shoplens/shoplens/pkg/ingest"
)

// maxLineBytes bounds a single NDJSON record.
const maxLineBytes = 1 << 20

// Sink receives decoded events; *publisher.Publisher satisfies it.
type Sink interface {
	Publish(ev *ingest.Event)
}

// Stats counts what one Relay call did.
type Stats struct {
	Published int
	Skipped   int
}

// Relay reads newline-delimited JSON events from r and hands each valid one
// to sink. Blank lines are ignored; undecodable or invalid lines are logged
// and skipped. Events without an org_id get defaultOrg. Relay returns when r
// is exhausted or ctx is cancelled.
func Relay(ctx context.Context, r io.Reader, defaultOrg string, sink Sink) (Stats, error) {
	var st Stats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		ev := new(ingest.Event)
		if err := json.Unmarshal(raw, ev); err != nil {
			st.Skipped++
			slog.Warn("relay: skipping undecodable line", "line", line, "err", err)
			continue
		}
		if ev.OrgID == "" {
			ev.OrgID = defaultOrg
		}
		if err := ev.Validate(); err != nil {
			st.Skipped++
			slog.Warn("relay: skipping invalid event", "line", line, "err", err)
			continue
		}

		sink.Publish(ev)
		st.Published++
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("relay: read input: %w", err)
	}
	return st, nil
}
