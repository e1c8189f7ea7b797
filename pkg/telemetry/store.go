package telemetry

import (
	"log/slog"

	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/internal/store"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

// FlightLog is where StoreSink writes. *store.DB implements it.
type FlightLog interface {
	AppendTransition(t store.Transition) error
	AppendSummary(s store.Summary) error
	AppendShutdown(s store.Shutdown) error
}

// StoreSink records transitions, summaries and the shutdown report in
// the flight log. Frames are not stored.
type StoreSink struct {
	Base
	db     FlightLog
	logger *slog.Logger
}

func NewStoreSink(db FlightLog) *StoreSink {
	return &StoreSink{db: db, logger: log.Component("telemetry").With("sink", "store")}
}

func (s *StoreSink) StateChanged(t rigidbody.Transition) {
	err := s.db.AppendTransition(store.Transition{
		RobotID:   t.ID,
		RobotName: t.Name,
		From:      t.From.String(),
		To:        t.To.String(),
		Reason:    t.Reason,
		At:        t.Time,
	})
	if err != nil {
		s.logger.Warn("append transition", "robot", t.Name, "err", err)
	}
}

func (s *StoreSink) Summary(st scheduler.Stats) {
	err := s.db.AppendSummary(store.Summary{
		DesiredHz:  st.DesiredHz,
		AchievedHz: st.AchievedHz,
		MocapHz:    st.MocapHz,
		UpdateTime: st.UpdateTime,
		WaitTime:   st.WaitTime,
		Ticks:      int64(st.Ticks),
		Overruns:   int64(st.Overruns),
		Panics:     int64(st.Panics),
		Robots:     st.Robots,
		At:         st.At,
	})
	if err != nil {
		s.logger.Warn("append summary", "err", err)
	}
}

func (s *StoreSink) Shutdown(r scheduler.Report) {
	err := s.db.AppendShutdown(store.Shutdown{
		Outcome:  r.Outcome,
		Robots:   r.Robots,
		Landed:   r.Landed,
		Duration: r.Duration,
		At:       r.At,
	})
	if err != nil {
		s.logger.Warn("append shutdown", "err", err)
	}
}

var _ FlightLog = (*store.DB)(nil)
