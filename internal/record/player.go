package record

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Player feeds a JSONL safety recording back into a writer, keeping the
// original spacing between cycles divided by Speed. Speed <= 0 plays as fast
// as the writer accepts rows.
type Player struct {
	Speed float64
	Node  string // play only this node's rows; all nodes when empty

	wait func(ctx context.Context, d time.Duration) error
}

// Play writes every matching row of r to w and returns how many were written.
func (p Player) Play(ctx context.Context, r io.Reader, w SafetyWriter) (int, error) {
	wait := p.wait
	if wait == nil {
		wait = sleepCtx
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	var (
		played int
		prev   time.Time
		line   int
	)
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var row SafetyRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return played, fmt.Errorf("line %d: %w", line, err)
		}
		if p.Node != "" && row.Node != p.Node {
			continue
		}
		if gap := p.gap(prev, row.Timestamp); gap > 0 {
			if err := wait(ctx, gap); err != nil {
				return played, err
			}
		}
		if err := w.Write(row); err != nil {
			return played, fmt.Errorf("line %d: %w", line, err)
		}
		prev = row.Timestamp
		played++
	}
	return played, sc.Err()
}

// PlayFile plays the recording at path.
func (p Player) PlayFile(ctx context.Context, path string, w SafetyWriter) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return p.Play(ctx, f, w)
}

func (p Player) gap(prev, next time.Time) time.Duration {
	if prev.IsZero() || p.Speed <= 0 {
		return 0
	}
	return time.Duration(float64(next.Sub(prev)) / p.Speed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
