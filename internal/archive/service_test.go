package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
	"backend-stridelink/internal/session"

	"github.com/pashagolub/pgxmock/v3"
)

var errArchive = errors.New("archive error")

func TestAppendSampleAndSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO session_samples`).
		WithArgs("s-1", "heart_rate", uint64(7), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO session_snapshots`).
		WithArgs("s-1", 1500.0, 12.0, 3.0, 340.0, 99.5, 150, 600.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService(mock, nil)
	svc.AppendSample("s-1", message.Sample{
		Kind:       message.SampleHeartRate,
		CapturedAt: time.Now(),
		Seq:        7,
		HeartRate:  &message.HeartRatePayload{Bpm: 150},
	})
	svc.AppendSnapshot("s-1", metrics.Snapshot{
		DistanceM:        1500,
		ElevationGainM:   12,
		ElevationLossM:   3,
		PaceSecPerKm:     340,
		CaloriesKcal:     99.5,
		HeartRateCurrent: 150,
		ActiveSec:        600,
	})
	svc.Close()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if svc.Dropped() != 0 {
		t.Fatalf("unexpected drops")
	}
}

func TestAppendAfterCloseIgnored(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService(mock, nil)
	svc.Close()
	svc.AppendSample("s-1", message.Sample{Kind: message.SampleHeartRate})
	svc.Close()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected writes: %v", err)
	}
}

func TestArchiveSession(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs("s-1", pgxmock.AnyArg(), pgxmock.AnyArg(), 600.0, 70.0, 5000.0, 50.0, 434.9, 148.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService(mock, nil)
	defer svc.Close()

	sctx := &session.Context{
		SessionID:   "s-1",
		State:       session.Stopped,
		StartedAt:   time.Now().Add(-time.Hour),
		PausedTotal: 10 * time.Minute,
		Config:      message.SessionConfig{UserWeightKg: 70},
	}
	final := metrics.Snapshot{DistanceM: 5000, ElevationGainM: 50, CaloriesKcal: 434.9, HeartRateAvg: 148}
	if err := svc.ArchiveSession(context.Background(), sctx, final); err != nil {
		t.Fatalf("archive session: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveSessionError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO sessions`).WillReturnError(errArchive)

	svc := NewService(mock, nil)
	defer svc.Close()

	sctx := &session.Context{SessionID: "s-1"}
	if err := svc.ArchiveSession(context.Background(), sctx, metrics.Snapshot{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	payload := []byte(`{"kind":"gps_fix","captured_at":"2026-08-01T07:00:00Z","seq":3,"gps":{"lat":-6.2,"lng":106.8}}`)
	mock.ExpectQuery(`SELECT payload FROM session_samples`).
		WithArgs("s-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	svc := NewService(mock, nil)
	defer svc.Close()

	samples, err := svc.Samples(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 1 || samples[0].Kind != message.SampleGPSFix || samples[0].GPS.Lat != -6.2 {
		t.Fatalf("unexpected samples: %+v", samples)
	}
}

func TestSamplesQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT payload FROM session_samples`).
		WithArgs("s-2").
		WillReturnError(errArchive)

	svc := NewService(mock, nil)
	defer svc.Close()

	if _, err := svc.Samples(context.Background(), "s-2"); err == nil {
		t.Fatalf("expected error")
	}
}
