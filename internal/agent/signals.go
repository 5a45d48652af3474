package agent

import (
	"os"
	"os/signal"
	"sync"
)

// SignalController turns Ctrl+C into a call to onInterrupt (usually
// Controller.Stop) instead of killing the process.
type SignalController struct {
	ch   chan os.Signal
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	stop func()
}

func NewSignalController(onInterrupt func()) *SignalController {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	s := newSignalController(ch, onInterrupt)
	s.stop = func() { signal.Stop(ch) }
	return s
}

func newSignalController(ch chan os.Signal, onInterrupt func()) *SignalController {
	s := &SignalController{ch: ch, done: make(chan struct{}), stop: func() {}}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.done:
				return
			case <-s.ch:
				onInterrupt()
			}
		}
	}()
	return s
}

// Close stops listening and waits for the watcher goroutine.
func (s *SignalController) Close() {
	s.once.Do(func() {
		s.stop()
		close(s.done)
		s.wg.Wait()
	})
}
