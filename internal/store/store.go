// Package store implements the session store (C7): an append-only,
// durably-fsynced record of completed sessions, with a trend-annotated
// history query, adapted from the teacher's recorder.go durability pattern.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/steadyscript/steadyscript/internal/logger"
	"github.com/steadyscript/steadyscript/pkg/types"
)

const writeQueueDepth = 8 // spec §5: persistence queue bound; overflow blocks the pipeline

type writeRequest struct {
	record types.SessionRecord
	done   chan error
}

// Store is an append-only JSON-lines file of SessionRecords. Append blocks
// until the record has been fsynced, so a successful call guarantees the
// record survives a crash (spec §4.7/§7 PersistenceFailure disposition).
type Store struct {
	mu      sync.RWMutex
	records []types.SessionRecord

	path      string
	file      *os.File
	writeChan chan writeRequest
	closeChan chan struct{}
	wg        sync.WaitGroup
}

// Open opens (creating if necessary) the backing file at path, replays any
// existing records into memory, and starts the durable writer goroutine.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	records, err := loadExisting(path)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{
		records:   records,
		path:      path,
		file:      file,
		writeChan: make(chan writeRequest, writeQueueDepth),
		closeChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func loadExisting(path string) ([]types.SessionRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []types.SessionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.SessionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("store", "skipping malformed record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.writeChan:
			req.done <- s.writeAndSync(req.record)
		case <-s.closeChan:
			return
		}
	}
}

func (s *Store) writeAndSync(rec types.SessionRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("store: sync: %w", err)
	}
	s.records = append(s.records, rec)
	return nil
}

// Append durably persists rec. It blocks while the write queue is full
// (spec §5: "Persistence queue is bounded at 8; overflow blocks the
// pipeline — safer than losing a completed session"), and again until the
// fsync completes, so a nil return guarantees durability.
func (s *Store) Append(rec types.SessionRecord) error {
	req := writeRequest{record: rec, done: make(chan error, 1)}
	s.writeChan <- req
	return <-req.done
}

// Close stops the writer goroutine and closes the underlying file.
func (s *Store) Close() error {
	close(s.closeChan)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// List returns the most recent limit records (newest first) plus a trend
// summary computed over tremor_score, per spec §4.7.
func (s *Store) List(limit int) types.SessionsResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]types.SessionRecord, len(s.records))
	copy(all, s.records)
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	trend, percent := computeTrend(all)

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	return types.SessionsResponse{
		Sessions:     all,
		Trend:        trend,
		TrendPercent: percent,
	}
}

// computeTrend implements the exact algorithm of the original backend's
// sessions.py stats(): recent-5 vs previous-5 averages of tremor_score,
// with avg_previous falling back to avg_recent when there is no
// previous-5 window (spec §4.7, §8 scenario 6).
func computeTrend(newestFirst []types.SessionRecord) (types.TrendLabel, float64) {
	recent := newestFirst
	if len(recent) > 5 {
		recent = recent[:5]
	}
	var previous []types.SessionRecord
	if len(newestFirst) > 5 {
		previous = newestFirst[5:]
		if len(previous) > 5 {
			previous = previous[:5]
		}
	}

	avgRecent := avgScore(recent)
	avgPrevious := avgRecent
	if len(previous) > 0 {
		avgPrevious = avgScore(previous)
	}

	if avgPrevious == 0 {
		return types.TrendStable, 0
	}

	percent := (avgRecent - avgPrevious) / avgPrevious * 100
	switch {
	case percent > 5:
		return types.TrendImproving, percent
	case percent < -5:
		return types.TrendDeclining, percent
	default:
		return types.TrendStable, percent
	}
}

func avgScore(records []types.SessionRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.TremorScore
	}
	return sum / float64(len(records))
}
