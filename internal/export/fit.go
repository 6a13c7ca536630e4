package export

import (
	"io"
	"time"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
	"backend-stridelink/internal/session"
	"backend-stridelink/internal/shared/geo"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
)

// FIT standard scaling: degrees to semicircles, altitude scale 5 offset 500.
const degreesToSemicircles = 2147483648.0 / 180.0

// encodeFIT renders the archived sample stream plus the final snapshot as a
// FIT activity file. One record message per GPS fix; heart rate and altitude
// carry forward from the most recent sample of their kind.
func encodeFIT(w io.Writer, sctx *session.Context, samples []message.Sample, final metrics.Snapshot) error {
	fit := proto.FIT{}

	fileID := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		Product:      0,
		SerialNumber: 1,
		TimeCreated:  sctx.StartedAt,
	}
	fit.Messages = append(fit.Messages, fileID.ToMesg(nil))

	var (
		distanceM float64
		altitudeM float64
		lastBpm   uint8
		lastLat   float64
		lastLng   float64
		haveFix   bool
		lastTime  time.Time
	)
	lastTime = sctx.StartedAt

	for _, s := range samples {
		switch s.Kind {
		case message.SampleHeartRate:
			lastBpm = uint8(s.HeartRate.Bpm)
		case message.SampleElevationDelta:
			altitudeM += s.Elevation.DeltaM
		case message.SampleGPSFix:
			if haveFix {
				distanceM += geo.HaversineM(lastLat, lastLng, s.GPS.Lat, s.GPS.Lng)
			}
			lastLat, lastLng = s.GPS.Lat, s.GPS.Lng
			haveFix = true
			lastTime = s.CapturedAt

			rec := &mesgdef.Record{
				Timestamp:        s.CapturedAt,
				PositionLat:      int32(s.GPS.Lat * degreesToSemicircles),
				PositionLong:     int32(s.GPS.Lng * degreesToSemicircles),
				Distance:         uint32(distanceM * 100),
				HeartRate:        lastBpm,
				EnhancedAltitude: uint32((altitudeM + 500.0) * 5.0),
			}
			fit.Messages = append(fit.Messages, rec.ToMesg(nil))
		}
	}

	elapsedMs := uint32(final.ActiveSec * 1000)
	totalDistCm := uint32(final.DistanceM * 100)

	event := mesgdef.Event{
		Timestamp: lastTime,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}
	fit.Messages = append(fit.Messages, event.ToMesg(nil))

	lap := mesgdef.Lap{
		Timestamp:        lastTime,
		StartTime:        sctx.StartedAt,
		TotalElapsedTime: elapsedMs,
		TotalTimerTime:   elapsedMs,
		TotalDistance:    totalDistCm,
		AvgHeartRate:     uint8(final.HeartRateAvg),
		MaxHeartRate:     uint8(final.HeartRateMax),
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, lap.ToMesg(nil))

	sess := mesgdef.Session{
		Timestamp:        lastTime,
		StartTime:        sctx.StartedAt,
		TotalElapsedTime: elapsedMs,
		TotalTimerTime:   elapsedMs,
		TotalDistance:    totalDistCm,
		TotalCalories:    uint16(final.CaloriesKcal),
		TotalAscent:      uint16(final.ElevationGainM),
		TotalDescent:     uint16(final.ElevationLossM),
		AvgHeartRate:     uint8(final.HeartRateAvg),
		MaxHeartRate:     uint8(final.HeartRateMax),
		Sport:            typedef.SportRunning,
		SubSport:         typedef.SubSportGeneric,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
	}
	fit.Messages = append(fit.Messages, sess.ToMesg(nil))

	return encoder.New(w).Encode(&fit)
}
