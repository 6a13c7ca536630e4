package archive

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"backend-stridelink/internal/db"
	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
	"backend-stridelink/internal/session"

	"go.uber.org/zap"
)

// Service is the local persistence collaborator: append-only sample and
// snapshot records plus the final session row. Appends are fire-and-forget
// through a bounded queue so the reducer never blocks on the database.
type Service struct {
	dbq db.Querier
	log *zap.Logger

	records chan record
	done    chan struct{}

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

type record struct {
	sessionID string
	sample    *message.Sample
	snapshot  *metrics.Snapshot
}

func NewService(dbq db.Querier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		dbq:     dbq,
		log:     log,
		records: make(chan record, 1024),
		done:    make(chan struct{}),
	}
	go s.writer()
	return s
}

func (s *Service) AppendSample(sessionID string, sample message.Sample) {
	s.enqueue(record{sessionID: sessionID, sample: &sample})
}

func (s *Service) AppendSnapshot(sessionID string, snap metrics.Snapshot) {
	s.enqueue(record{sessionID: sessionID, snapshot: &snap})
}

func (s *Service) enqueue(rec record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.records <- rec:
	default:
		s.dropped++
	}
}

func (s *Service) writer() {
	defer close(s.done)
	for rec := range s.records {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch {
		case rec.sample != nil:
			err = s.insertSample(ctx, rec.sessionID, *rec.sample)
		case rec.snapshot != nil:
			err = s.insertSnapshot(ctx, rec.sessionID, *rec.snapshot)
		}
		cancel()
		if err != nil {
			s.log.Warn("archive write failed", zap.String("session_id", rec.sessionID), zap.Error(err))
		}
	}
}

func (s *Service) insertSample(ctx context.Context, sessionID string, sample message.Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	_, err = s.dbq.Exec(ctx, `
		INSERT INTO session_samples (session_id, kind, seq, captured_at, payload)
		VALUES ($1,$2,$3,$4,$5)
	`, sessionID, string(sample.Kind), sample.Seq, sample.CapturedAt, payload)
	return err
}

func (s *Service) insertSnapshot(ctx context.Context, sessionID string, snap metrics.Snapshot) error {
	_, err := s.dbq.Exec(ctx, `
		INSERT INTO session_snapshots (session_id, distance_m, elevation_gain_m, elevation_loss_m, pace_sec_per_km, calories_kcal, heart_rate_bpm, active_sec, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sessionID, snap.DistanceM, snap.ElevationGainM, snap.ElevationLossM, snap.PaceSecPerKm, snap.CaloriesKcal, snap.HeartRateCurrent, snap.ActiveSec, time.Now())
	return err
}

// ArchiveSession writes the final session row at stop. Synchronous: the
// session is already over, nothing real-time is waiting on it.
func (s *Service) ArchiveSession(ctx context.Context, sctx *session.Context, final metrics.Snapshot) error {
	_, err := s.dbq.Exec(ctx, `
		INSERT INTO sessions (id, started_at, stopped_at, paused_total_sec, user_weight_kg, distance_m, elevation_gain_m, calories_kcal, avg_heart_rate)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, sctx.SessionID, sctx.StartedAt, time.Now(), sctx.PausedTotal.Seconds(), sctx.Config.UserWeightKg,
		final.DistanceM, final.ElevationGainM, final.CaloriesKcal, final.HeartRateAvg)
	return err
}

// Samples loads the archived raw samples for a session in sequence order,
// used by the exporters.
func (s *Service) Samples(ctx context.Context, sessionID string) ([]message.Sample, error) {
	rows, err := s.dbq.Query(ctx, `
		SELECT payload FROM session_samples WHERE session_id=$1 ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []message.Sample
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sample message.Sample
		if err := json.Unmarshal(payload, &sample); err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// Dropped reports appends discarded because the write queue was full.
func (s *Service) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close drains the queue and stops the writer.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.records)
	<-s.done
}
