// internal/historian/historian.go is an asynchronous historian service that pops room actions
// from a queue and persists them in batches.
package historian

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/macqm/teexid/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source yields raw queued records. Pop returns nil, nil when nothing arrived within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Store persists batches and closes out rooms that went quiet.
type Store interface {
	SaveActions(ctx context.Context, recs []models.RoomActionRecord) error
	MarkAbandoned(ctx context.Context, roomID uuid.UUID) error
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	PopTimeout    time.Duration
	// Inactivity is how long a room may go without actions before it is marked abandoned.
	Inactivity    time.Duration
	SweepInterval time.Duration
	// MaxPending caps how many records are held for retry while the store is failing.
	MaxPending int
}

func DefaultOptions() Options {
	return Options{
		BatchSize:     20,
		FlushInterval: 500 * time.Millisecond,
		PopTimeout:    3 * time.Second,
		Inactivity:    10 * time.Minute,
		SweepInterval: time.Minute,
		MaxPending:    10000,
	}
}

// Service drains a Source into a Store.
type Service struct {
	source Source
	store  Store
	opts   Options
	logger logrus.FieldLogger
	now    func() time.Time

	batchMu sync.Mutex
	batch   []models.RoomActionRecord

	activityMu   sync.Mutex
	lastActivity map[uuid.UUID]time.Time
}

func New(source Source, store Store, opts Options, logger logrus.FieldLogger) *Service {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = def.PopTimeout
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = def.Inactivity
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.MaxPending < opts.BatchSize {
		opts.MaxPending = def.MaxPending
	}
	return &Service{
		source:       source,
		store:        store,
		opts:         opts,
		logger:       logger,
		now:          time.Now,
		batch:        make([]models.RoomActionRecord, 0, opts.BatchSize),
		lastActivity: make(map[uuid.UUID]time.Time),
	}
}

// Run reads, flushes and sweeps until ctx is done, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("teexid-historian service started.")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	g.Go(func() error { return s.inactivityLoop(gctx) })
	err := g.Wait()

	finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(finalCtx)
	s.logger.Info("teexid-historian shutting down.")
	return err
}

func (s *Service) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, err := s.source.Pop(ctx, s.opts.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("pop: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if data == nil {
			continue
		}
		s.ingest(ctx, data)
	}
}

// ingest decodes one record and adds it to the batch, flushing once the batch is full.
func (s *Service) ingest(ctx context.Context, data []byte) {
	var rec models.RoomActionRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.RoomID == uuid.Nil {
		s.logger.Warnf("invalid action record: %v", err)
		return
	}

	s.activityMu.Lock()
	if rec.ActionType == models.ActionGameEnd {
		delete(s.lastActivity, rec.RoomID)
	} else {
		s.lastActivity[rec.RoomID] = s.now()
	}
	s.activityMu.Unlock()

	if s.appendToBatch(rec) {
		s.flush(ctx)
	}
}

// appendToBatch reports whether the batch reached its flush size.
func (s *Service) appendToBatch(rec models.RoomActionRecord) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.batch = append(s.batch, rec)
	return len(s.batch) >= s.opts.BatchSize
}

func (s *Service) takeBatch() []models.RoomActionRecord {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	if len(s.batch) == 0 {
		return nil
	}
	out := make([]models.RoomActionRecord, len(s.batch))
	copy(out, s.batch)
	s.batch = s.batch[:0]
	return out
}

// requeue puts a failed batch back in front of anything that arrived meanwhile.
func (s *Service) requeue(recs []models.RoomActionRecord) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	merged := append(recs, s.batch...)
	if over := len(merged) - s.opts.MaxPending; over > 0 {
		s.logger.Errorf("dropping %d action records, store is not keeping up", over)
		merged = merged[over:]
	}
	s.batch = merged
}

// flush writes the current batch. The store call happens outside the batch lock.
func (s *Service) flush(ctx context.Context) {
	recs := s.takeBatch()
	if len(recs) == 0 {
		return
	}
	if err := s.store.SaveActions(ctx, recs); err != nil {
		s.logger.Errorf("flush of %d actions failed: %v", len(recs), err)
		s.requeue(recs)
		return
	}
	s.logger.Debugf("Flushed %d actions to DB.", len(recs))
}

func (s *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *Service) inactivityLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep marks rooms abandoned once they have been quiet longer than Inactivity.
func (s *Service) sweep(ctx context.Context) {
	now := s.now()
	var stale []uuid.UUID
	s.activityMu.Lock()
	for id, last := range s.lastActivity {
		if now.Sub(last) > s.opts.Inactivity {
			stale = append(stale, id)
			delete(s.lastActivity, id)
		}
	}
	s.activityMu.Unlock()

	if len(stale) == 0 {
		return
	}
	// Pending actions for these rooms must land before the status changes.
	s.flush(ctx)
	for _, id := range stale {
		if err := s.store.MarkAbandoned(ctx, id); err != nil {
			s.logger.Errorf("failed to mark room %v abandoned: %v", id, err)
			continue
		}
		s.logger.Infof("Marked room %v as 'abandoned' due to inactivity.", id)
	}
}

// Tracked returns how many rooms are being watched for inactivity.
func (s *Service) Tracked() int {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return len(s.lastActivity)
}
