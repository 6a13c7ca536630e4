package server

import (
	"context"
	"time"

	"backend-stridelink/internal/channel"
	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
	"backend-stridelink/internal/split"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type startRequest struct {
	UserWeightKg      *float64 `json:"user_weight_kg"`
	SplitIntervalM    *float64 `json:"split_interval_m"`
	CalorieAdjustment *float64 `json:"calorie_adjustment"`
	PaceWindowSec     *int     `json:"pace_window_sec"`
}

type stopResponse struct {
	Session      sessionView          `json:"session"`
	Final        metrics.Snapshot     `json:"final"`
	Splits       []message.SplitEvent `json:"splits"`
	FITPath      string               `json:"fit_path,omitempty"`
	GPXPath      string               `json:"gpx_path,omitempty"`
	Unsynced     bool                 `json:"peer_unsynced"`
	ArchiveError string               `json:"archive_error,omitempty"`
}

type sessionView struct {
	SessionID   string                `json:"session_id"`
	State       string                `json:"state"`
	StartedAt   time.Time             `json:"started_at"`
	PausedTotal float64               `json:"paused_total_sec"`
	Config      message.SessionConfig `json:"config"`
}

func registerSessionRoutes(r fiber.Router, s *Server) {
	r.Post("/", func(c *fiber.Ctx) error {
		var req startRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}

		cfg := message.SessionConfig{
			UserWeightKg:      s.Cfg.UserWeightKg,
			SplitIntervalM:    s.Cfg.SplitIntervalM,
			CalorieAdjustment: s.Cfg.CalorieAdjustment,
			PaceWindowSec:     s.Cfg.PaceWindowSec,
		}
		if req.UserWeightKg != nil {
			cfg.UserWeightKg = *req.UserWeightKg
		}
		if req.SplitIntervalM != nil {
			cfg.SplitIntervalM = *req.SplitIntervalM
		}
		if req.CalorieAdjustment != nil {
			cfg.CalorieAdjustment = *req.CalorieAdjustment
		}
		if req.PaceWindowSec != nil {
			cfg.PaceWindowSec = *req.PaceWindowSec
		}

		sctx, err := s.Controller.Start(cfg)
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}

		s.Engine.Bind(sctx)
		s.mu.Lock()
		s.detector = split.NewDetector(cfg.SplitIntervalM)
		s.splits = nil
		s.mu.Unlock()

		return c.Status(fiber.StatusCreated).JSON(viewOf(s, sctx.SessionID))
	})

	r.Post("/:id/pause", func(c *fiber.Ctx) error {
		if err := requireSession(s, c.Params("id")); err != nil {
			return err
		}
		if err := s.Controller.Pause(); err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(viewOf(s, c.Params("id")))
	})

	r.Post("/:id/resume", func(c *fiber.Ctx) error {
		if err := requireSession(s, c.Params("id")); err != nil {
			return err
		}
		if err := s.Controller.Resume(); err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(viewOf(s, c.Params("id")))
	})

	r.Post("/:id/stop", func(c *fiber.Ctx) error {
		if err := requireSession(s, c.Params("id")); err != nil {
			return err
		}

		final := s.Engine.Snapshot()
		sctx, err := s.Controller.Stop()
		if err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		s.Engine.Unbind()

		resp := stopResponse{
			Session: sessionView{
				SessionID:   sctx.SessionID,
				State:       string(sctx.State),
				StartedAt:   sctx.StartedAt,
				PausedTotal: sctx.PausedTotal.Seconds(),
				Config:      sctx.Config,
			},
			Final:    final,
			Splits:   s.Splits(),
			Unsynced: s.Controller.PeerUnsynced(),
		}

		// The session is already stopped; a persistence fault is reported,
		// never allowed to fail the stop itself.
		if err := s.Archive.ArchiveSession(c.Context(), sctx, final); err != nil {
			s.Log.Error("archive session", zap.Error(err))
			resp.ArchiveError = err.Error()
		}

		// Exports are best effort; a failed file write does not undo the stop.
		exportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if p, err := s.Export.WriteFIT(exportCtx, sctx, final); err != nil {
			s.Log.Warn("fit export failed", zap.Error(err))
		} else {
			resp.FITPath = p
		}
		if p, err := s.Export.WriteGPX(exportCtx, sctx); err != nil {
			s.Log.Warn("gpx export failed", zap.Error(err))
		} else {
			resp.GPXPath = p
		}

		return c.JSON(resp)
	})

	r.Get("/:id/snapshot", func(c *fiber.Ctx) error {
		if err := requireSession(s, c.Params("id")); err != nil {
			return err
		}
		return c.JSON(s.Engine.Snapshot())
	})

	r.Get("/:id/splits", func(c *fiber.Ctx) error {
		if err := requireSession(s, c.Params("id")); err != nil {
			return err
		}
		return c.JSON(s.Splits())
	})
}

func requireSession(s *Server, id string) error {
	sctx := s.Controller.Current()
	if sctx == nil || sctx.SessionID != id {
		return fiber.NewError(fiber.StatusNotFound, "no such session")
	}
	return nil
}

func viewOf(s *Server, id string) sessionView {
	sctx := s.Controller.Current()
	if sctx == nil || sctx.SessionID != id {
		return sessionView{SessionID: id}
	}
	return sessionView{
		SessionID:   sctx.SessionID,
		State:       string(sctx.State),
		StartedAt:   sctx.StartedAt,
		PausedTotal: sctx.PausedTotal.Seconds(),
		Config:      sctx.Config,
	}
}

// registerChannelRoutes exposes the wearable's entry point. Each accepted
// websocket is attached to the sync channel; Run blocks until the link drops.
func registerChannelRoutes(r fiber.Router, s *Server) {
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		s.Log.Info("wearable link attached")
		s.Channel.Run(channel.WrapWebsocket(c))
		s.Log.Info("wearable link detached")
	}))
}
