package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-mdp/internal/config"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRebind(t *testing.T) {
	got := Rebind(`SELECT a FROM t WHERE b=? AND c=? LIMIT ?`)
	want := `SELECT a FROM t WHERE b=$1 AND c=$2 LIMIT $3`
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}
}

func TestOpenUnsupported(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestTransitions(t *testing.T) {
	db := testDB(t)
	at := time.Unix(1700000000, 123456789)

	entries := []Transition{
		{RobotID: 0, RobotName: "vflie_00", From: "LANDED", To: "TAKING_OFF", Reason: "TAKEOFF", At: at},
		{RobotID: 1, RobotName: "cflie_07", From: "LANDED", To: "TAKING_OFF", Reason: "TAKEOFF", At: at},
		{RobotID: 0, RobotName: "vflie_00", From: "TAKING_OFF", To: "HOVER", Reason: "timeout", At: at.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := db.AppendTransition(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := db.ListTransitions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d transitions, want 3", len(all))
	}
	if all[0].To != "HOVER" {
		t.Errorf("newest first: got %q", all[0].To)
	}
	if !all[2].At.Equal(at) {
		t.Errorf("At = %v, want %v", all[2].At, at)
	}

	robot0, err := db.ListRobotTransitions(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(robot0) != 2 {
		t.Errorf("robot 0 transitions: got %d, want 2", len(robot0))
	}
	for _, tr := range robot0 {
		if tr.RobotName != "vflie_00" {
			t.Errorf("unexpected robot %q", tr.RobotName)
		}
	}

	limited, _ := db.ListTransitions(1)
	if len(limited) != 1 {
		t.Errorf("limit 1: got %d", len(limited))
	}
}

func TestSummaries(t *testing.T) {
	db := testDB(t)
	s := Summary{
		DesiredHz:  100,
		AchievedHz: 99.5,
		MocapHz:    120,
		UpdateTime: 300 * time.Microsecond,
		WaitTime:   9700 * time.Microsecond,
		Ticks:      500,
		Overruns:   2,
		Robots:     4,
		At:         time.Unix(1700000005, 0),
	}
	if err := db.AppendSummary(s); err != nil {
		t.Fatal(err)
	}
	got, err := db.ListSummaries(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d summaries", len(got))
	}
	g := got[0]
	if g.ID == 0 {
		t.Error("ID should be assigned")
	}
	if g.AchievedHz != 99.5 || g.UpdateTime != s.UpdateTime || g.WaitTime != s.WaitTime || g.Overruns != 2 || g.Robots != 4 {
		t.Errorf("got %+v", g)
	}
}

func TestShutdowns(t *testing.T) {
	db := testDB(t)
	if err := db.AppendShutdown(Shutdown{Outcome: "timeout", Robots: 3, Landed: 2, Duration: 10 * time.Second, At: time.Unix(1700000100, 0)}); err != nil {
		t.Fatal(err)
	}
	got, err := db.ListShutdowns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Outcome != "timeout" || got[0].Landed != 2 || got[0].Duration != 10*time.Second {
		t.Errorf("got %+v", got)
	}
}
