// Package proposalfile reads trade proposals from a JSON-lines file. An
// external signal process appends one JSON object per line; this source tails
// the file and hands back only the lines added since the previous read.
package proposalfile

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
)

// record is the wire format of one proposal line.
type record struct {
	SetupID    string  `json:"setup_id"`
	Instrument string  `json:"instrument"`
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	Stop       float64 `json:"stop"`
	Target     float64 `json:"target"`
	CreatedAt  int64   `json:"created_at,omitempty"` // unix millis, optional
}

// Source implements ports.ProposalSource over an append-only file.
type Source struct {
	path   string
	logger ports.Logger

	mu     sync.Mutex
	offset int64
}

// New creates a proposal source for the given file path. The file does not
// need to exist yet; a missing file simply yields no proposals.
func New(path string, logger ports.Logger) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("proposal file path is required: %w", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for proposal source")
	}
	return &Source{path: path, logger: logger}, nil
}

// Proposals returns the proposals appended to the file since the last call.
// Malformed lines are logged and skipped so one bad record cannot stall the
// intake. A truncated file resets the read offset to the beginning.
func (s *Source) Proposals(ctx context.Context) ([]*domain.TradeProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening proposal file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat proposal file: %w", err)
	}
	if info.Size() < s.offset {
		s.logger.Warn(ctx, "proposal file truncated, rereading from start", map[string]interface{}{"path": s.path})
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking proposal file: %w", err)
	}

	var proposals []*domain.TradeProposal
	reader := bufio.NewReader(f)
	consumed := s.offset
	for {
		if ctx.Err() != nil {
			return proposals, ctx.Err()
		}
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Leave a partial trailing line for the next pass; the writer may
			// still be appending it.
			break
		}
		if err != nil {
			return proposals, fmt.Errorf("reading proposal file: %w", err)
		}
		consumed += int64(len(line))

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p, err := parseLine(line)
		if err != nil {
			s.logger.Warn(ctx, "skipping malformed proposal line", map[string]interface{}{"error": err.Error()})
			continue
		}
		proposals = append(proposals, p)
	}
	s.offset = consumed

	return proposals, nil
}

func parseLine(line string) (*domain.TradeProposal, error) {
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, fmt.Errorf("decoding proposal: %w", err)
	}

	var dir domain.Direction
	switch strings.ToLower(rec.Direction) {
	case "long":
		dir = domain.Long
	case "short":
		dir = domain.Short
	default:
		return nil, fmt.Errorf("unknown direction %q", rec.Direction)
	}
	if rec.SetupID == "" || rec.Instrument == "" {
		return nil, fmt.Errorf("proposal missing setup_id or instrument")
	}

	createdAt := time.Now().UTC()
	if rec.CreatedAt > 0 {
		createdAt = time.UnixMilli(rec.CreatedAt).UTC()
	}

	return &domain.TradeProposal{
		SetupID:    rec.SetupID,
		Instrument: rec.Instrument,
		Direction:  dir,
		Entry:      rec.Entry,
		Stop:       rec.Stop,
		Target:     rec.Target,
		CreatedAt:  createdAt,
	}, nil
}
