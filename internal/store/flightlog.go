package store

import (
	"time"
)

type Transition struct {
	ID        int64     `json:"id"`
	RobotID   uint32    `json:"robot_id"`
	RobotName string    `json:"robot_name"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

type Summary struct {
	ID         int64         `json:"id"`
	DesiredHz  float64       `json:"desired_hz"`
	AchievedHz float64       `json:"achieved_hz"`
	MocapHz    float64       `json:"mocap_hz"`
	UpdateTime time.Duration `json:"update_time"`
	WaitTime   time.Duration `json:"wait_time"`
	Ticks      int64         `json:"ticks"`
	Overruns   int64         `json:"overruns"`
	Panics     int64         `json:"panics"`
	Robots     int           `json:"robots"`
	At         time.Time     `json:"at"`
}

type Shutdown struct {
	ID       int64         `json:"id"`
	Outcome  string        `json:"outcome"`
	Robots   int           `json:"robots"`
	Landed   int           `json:"landed"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

func (db *DB) AppendTransition(t Transition) error {
	_, err := db.Exec(db.Q(`INSERT INTO transitions (robot_id, robot_name, from_state, to_state, reason, at_ns) VALUES (?, ?, ?, ?, ?, ?)`),
		int64(t.RobotID), t.RobotName, t.From, t.To, t.Reason, toNanos(t.At))
	return err
}

// ListTransitions returns the most recent transitions, newest first.
func (db *DB) ListTransitions(limit int) ([]*Transition, error) {
	return db.queryTransitions(db.Q(`SELECT id, robot_id, robot_name, from_state, to_state, reason, at_ns FROM transitions ORDER BY id DESC LIMIT ?`), limit)
}

func (db *DB) ListRobotTransitions(robotID uint32, limit int) ([]*Transition, error) {
	return db.queryTransitions(db.Q(`SELECT id, robot_id, robot_name, from_state, to_state, reason, at_ns FROM transitions WHERE robot_id=? ORDER BY id DESC LIMIT ?`), int64(robotID), limit)
}

func (db *DB) queryTransitions(query string, args ...any) ([]*Transition, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transition
	for rows.Next() {
		var t Transition
		var robotID, at int64
		if err := rows.Scan(&t.ID, &robotID, &t.RobotName, &t.From, &t.To, &t.Reason, &at); err != nil {
			return nil, err
		}
		t.RobotID = uint32(robotID)
		t.At = fromNanos(at)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (db *DB) AppendSummary(s Summary) error {
	_, err := db.Exec(db.Q(`INSERT INTO summaries (desired_hz, achieved_hz, mocap_hz, update_ns, wait_ns, ticks, overruns, panics, robots, at_ns) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		s.DesiredHz, s.AchievedHz, s.MocapHz, int64(s.UpdateTime), int64(s.WaitTime), s.Ticks, s.Overruns, s.Panics, s.Robots, toNanos(s.At))
	return err
}

func (db *DB) ListSummaries(limit int) ([]*Summary, error) {
	rows, err := db.Query(db.Q(`SELECT id, desired_hz, achieved_hz, mocap_hz, update_ns, wait_ns, ticks, overruns, panics, robots, at_ns FROM summaries ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Summary
	for rows.Next() {
		var s Summary
		var update, wait, at int64
		if err := rows.Scan(&s.ID, &s.DesiredHz, &s.AchievedHz, &s.MocapHz, &update, &wait, &s.Ticks, &s.Overruns, &s.Panics, &s.Robots, &at); err != nil {
			return nil, err
		}
		s.UpdateTime = time.Duration(update)
		s.WaitTime = time.Duration(wait)
		s.At = fromNanos(at)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (db *DB) AppendShutdown(s Shutdown) error {
	_, err := db.Exec(db.Q(`INSERT INTO shutdowns (outcome, robots, landed, duration_ns, at_ns) VALUES (?, ?, ?, ?, ?)`),
		s.Outcome, s.Robots, s.Landed, int64(s.Duration), toNanos(s.At))
	return err
}

func (db *DB) ListShutdowns(limit int) ([]*Shutdown, error) {
	rows, err := db.Query(db.Q(`SELECT id, outcome, robots, landed, duration_ns, at_ns FROM shutdowns ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Shutdown
	for rows.Next() {
		var s Shutdown
		var dur, at int64
		if err := rows.Scan(&s.ID, &s.Outcome, &s.Robots, &s.Landed, &dur, &at); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(dur)
		s.At = fromNanos(at)
		out = append(out, &s)
	}
	return out, rows.Err()
}
