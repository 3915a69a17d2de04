package app

import (
	"errors"

	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/logging"
)

// Session owns every hardware handle acquired for one run. Fields are set as
// resources are acquired, so a partially built session is valid input to
// Teardown.
type Session struct {
	Context  *iio.Context
	Phy      *iio.Device
	TX       *iio.Device
	Channels []*iio.Channel
	Buffer   *FrameBuffer

	log  logging.Logger
	done bool
}

func newSession(log logging.Logger) *Session {
	return &Session{log: log}
}

// Teardown releases the buffer, then the streaming channels, then the
// context. Only the first call does anything.
func (s *Session) Teardown() error {
	if s == nil || s.done {
		return nil
	}
	s.done = true

	log := s.log
	if log == nil {
		log = logging.Default()
	}
	log = log.With(logging.Subsystem("teardown"))

	var errs []error
	log.Info("destroying buffers")
	if s.Buffer != nil {
		if err := s.Buffer.Destroy(); err != nil {
			log.Warn("buffer destroy failed", logging.Err(err))
			errs = append(errs, err)
		}
		s.Buffer = nil
	}

	log.Info("disabling streaming channels")
	for _, ch := range s.Channels {
		if ch != nil {
			ch.Disable()
		}
	}

	log.Info("destroying context")
	if s.Context != nil {
		if err := s.Context.Destroy(); err != nil {
			log.Warn("context destroy failed", logging.Err(err))
			errs = append(errs, err)
		}
		s.Context = nil
	}
	return errors.Join(errs...)
}
