package calibration

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLead is how long before a run OnUpcoming fires.
	DefaultLead      = 5 * time.Minute
	preCheckMaxTimes = 30
	preCheckInterval = 10 * time.Second
	// idleWait is the timer used while nothing is scheduled.
	idleWait = 10000 * time.Hour
)

var (
	ErrNoSchedule      = errors.New("no active calibration schedule")
	ErrPostponeTooLong = errors.New("postpone duration reaches the following run")
)

// Scheduler starts calibration cycles on a cron expression. Before each run
// it calls OnUpcoming, then retries PreCheck (e.g. "plugged in") for a while
// before giving up on that run.
type Scheduler struct {
	OnUpcoming func(runAt time.Time)
	OnError    func(err error)
	Task       func() error
	PreCheck   func() error
	Lead       time.Duration

	parser cron.Parser

	mu       sync.Mutex
	expr     string
	schedule cron.Schedule
	nextRun  time.Time
	running  bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

type controlKind int

const (
	ctrlRecalculate controlKind = iota
	ctrlPostpone
	ctrlSkip
)

type controlMsg struct {
	kind controlKind
	at   time.Time
}

// NewScheduler returns a stopped Scheduler with nothing scheduled.
func NewScheduler(task, preCheck func() error) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		Task:      task,
		PreCheck:  preCheck,
		Lead:      DefaultLead,
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		controlCh: make(chan controlMsg, 4),
		stopCh:    make(chan struct{}),
	}
}

// Validate parses expr without scheduling it.
func (s *Scheduler) Validate(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// Start runs the timer loop in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.loop()
}

// Stop ends the timer loop. It cannot be restarted.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Schedule replaces the cron expression. An empty expression disables
// scheduled runs.
func (s *Scheduler) Schedule(expr string) error {
	var sh cron.Schedule
	if expr != "" {
		var err error
		sh, err = s.parser.Parse(expr)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.expr = expr
	s.schedule = sh
	s.nextRun = time.Time{}
	if sh != nil {
		s.nextRun = sh.Next(time.Now())
	}
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(controlMsg{kind: ctrlRecalculate})
	}
	return nil
}

// Postpone delays the next run by d. The new time must stay before the run
// after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postpone duration must be positive")
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return ErrNoSchedule
	}
	following := s.schedule.Next(s.nextRun).Truncate(time.Second)
	pp := s.nextRun.Add(d).Truncate(time.Second)
	if !pp.Before(following) {
		s.mu.Unlock()
		return ErrPostponeTooLong
	}
	s.nextRun = pp
	s.mu.Unlock()

	s.trySendControl(controlMsg{kind: ctrlPostpone, at: pp})
	return nil
}

// Skip drops the next run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return ErrNoSchedule
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(controlMsg{kind: ctrlSkip})
	}
	return nil
}

// Status returns the cron expression, the next run, and whether the loop is
// running.
func (s *Scheduler) Status() (expr string, nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr, s.nextRun, s.running
}

func (s *Scheduler) loop() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("calibration scheduler stopped")
	}()

	logrus.Debug("calibration scheduler started")

	for {
		nextRun := s.next()
		upcoming := true
		attempts := 0
		var lastPrecheck error

		wait := idleWait
		if !nextRun.IsZero() {
			wait = max(time.Until(nextRun)-s.Lead, 0)
		}
		timer := time.NewTimer(wait)

	inner:
		for {
			select {
			case <-s.stopCh:
				timer.Stop()
				return

			case msg := <-s.controlCh:
				logrus.WithField("kind", msg.kind).Debug("calibration scheduler control message")
				if msg.kind == ctrlPostpone {
					nextRun = msg.at
					upcoming = true
					timer.Reset(max(time.Until(nextRun)-s.Lead, 0))
					continue
				}
				timer.Stop()
				break inner

			case <-timer.C:
				if nextRun.IsZero() {
					break inner
				}

				if upcoming {
					upcoming = false
					logrus.Debugf("upcoming calibration at %s", nextRun.Format(time.DateTime))
					if s.OnUpcoming != nil {
						go s.OnUpcoming(nextRun)
					}
					timer.Reset(max(time.Until(nextRun), 0))
					continue
				}

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if lastPrecheck == nil || err.Error() != lastPrecheck.Error() {
							lastPrecheck = err
							s.sendError(fmt.Errorf("precheck failed: %w", err))
						}
						attempts++
						if attempts <= preCheckMaxTimes {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, preCheckInterval)
							timer.Reset(preCheckInterval)
							continue
						}
						s.advance(nextRun)
						break inner
					}
				}

				logrus.Infof("running scheduled calibration planned for %s", nextRun.Format(time.DateTime))
				go func() {
					if err := s.Task(); err != nil {
						s.sendError(fmt.Errorf("task failed: %w", err))
					}
				}()
				s.advance(nextRun)
				break inner
			}
		}
	}
}

func (s *Scheduler) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// advance moves past ran, unless the schedule changed meanwhile.
func (s *Scheduler) advance(ran time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil || !s.nextRun.Equal(ran) {
		return
	}
	s.nextRun = s.schedule.Next(ran)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}
	go s.OnError(err)
}

func (s *Scheduler) trySendControl(msg controlMsg) {
	select {
	case s.controlCh <- msg:
	default:
	}
}
