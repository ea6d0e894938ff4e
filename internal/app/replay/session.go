package replay

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Session holds the scenario currently replayed by the process. Replay
// servers and the admin API share one Session.
type Session struct {
	mu     sync.RWMutex
	engine *Engine
}

func (s *Session) Start(scope *Scope, opts ...Option) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return nil, ErrScenarioActive
	}

	engine, err := New(scope, opts...)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return engine, nil
}

func (s *Session) Current() (*Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine, s.engine != nil
}

// Stop ends the active scenario and returns its verification result.
func (s *Session) Stop() error {
	s.mu.Lock()
	engine := s.engine
	s.engine = nil
	s.mu.Unlock()

	if engine == nil {
		return ErrNoScenario
	}
	log.Infof("stopping scenario '%s'", engine.Scope().Name())
	return engine.Verify()
}
