package export

import (
	"context"
	"os"
	"path/filepath"

	"backend-stridelink/internal/message"
	"backend-stridelink/internal/metrics"
	"backend-stridelink/internal/session"

	"go.uber.org/zap"
)

// SampleSource returns the archived samples of a finished session in seq
// order. The archive service satisfies this.
type SampleSource interface {
	Samples(ctx context.Context, sessionID string) ([]message.Sample, error)
}

type Service struct {
	src SampleSource
	dir string
	log *zap.Logger
}

func NewService(src SampleSource, dir string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{src: src, dir: dir, log: log}
}

// WriteFIT exports the session as a FIT activity file and returns its path.
func (s *Service) WriteFIT(ctx context.Context, sctx *session.Context, final metrics.Snapshot) (string, error) {
	samples, err := s.src.Samples(ctx, sctx.SessionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, sctx.SessionID+".fit")
	if err := s.writeFile(path, func(f *os.File) error {
		return encodeFIT(f, sctx, samples, final)
	}); err != nil {
		return "", err
	}
	s.log.Info("wrote fit export", zap.String("path", path))
	return path, nil
}

// WriteGPX exports the session track as a GPX file and returns its path.
func (s *Service) WriteGPX(ctx context.Context, sctx *session.Context) (string, error) {
	samples, err := s.src.Samples(ctx, sctx.SessionID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, sctx.SessionID+".gpx")
	if err := s.writeFile(path, func(f *os.File) error {
		return encodeGPX(f, sctx, samples)
	}); err != nil {
		return "", err
	}
	s.log.Info("wrote gpx export", zap.String("path", path))
	return path, nil
}

func (s *Service) writeFile(path string, encode func(*os.File) error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
