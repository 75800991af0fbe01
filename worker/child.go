package worker

import (
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// childWork is the handler child's loop: block on the control channel,
// service one request, write the response on the shared upstream
// connection, then announce completion. A closed control channel is the
// supervisor reaping the child; the chaos exit simulates a handler dying
// on its own so the supervisor's recovery path stays exercised.
func (s *Supervisor) childWork(c *child) {
	defer s.childWg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(c.pid)))
	for {
		frame, ok := <-c.reqC
		if !ok {
			return
		}
		resp := s.responder.Respond(frame)
		if err := s.writeUpstream(resp.Marshal()); err != nil {
			log.Errorf("child pid=%v failed to write response: %v", c.pid, err)
		}
		select {
		case s.doneC <- completion{pid: c.pid, index: c.index}:
		case <-s.stopC:
			return
		}
		if s.options.ChaosDenominator > 0 && rng.Intn(s.options.ChaosDenominator) == 0 {
			log.Infof("child pid=%v index=%v exiting on purpose", c.pid, c.index)
			select {
			case s.exitC <- exitNotice{pid: c.pid, index: c.index}:
			case <-s.stopC:
			}
			return
		}
	}
}
