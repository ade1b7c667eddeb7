package procstore

import (
	"testing"
	"time"

	"github.com/procscope/procscope/internal/procmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proc(pid int, level procmodel.SuspicionLevel, cpu float64) procmodel.Process {
	return procmodel.Process{PID: pid, Level: level, CPU: cpu}
}

func TestStore_UpdateNotifiesOnChange(t *testing.T) {
	s := New()
	ch, unsub := s.Subscribe()
	defer unsub()

	s.Update([]procmodel.Process{proc(1, procmodel.LevelLOW, 1.0)})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification on first update")
	}

	assert.Equal(t, 1, s.Stats().Total)
}

func TestStore_UpdateNoOpOnIdenticalDigest(t *testing.T) {
	s := New()
	s.Update([]procmodel.Process{proc(1, procmodel.LevelLOW, 1.01)})
	ch, unsub := s.Subscribe()
	defer unsub()

	// 1.01 and 1.04 both round to the same one-decimal digest bucket.
	s.Update([]procmodel.Process{proc(1, procmodel.LevelLOW, 1.04)})

	select {
	case <-ch:
		t.Fatal("did not expect a notification for a sub-threshold cpu fluctuation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_UpdateNotifiesOnLevelChange(t *testing.T) {
	s := New()
	s.Update([]procmodel.Process{proc(1, procmodel.LevelLOW, 1.0)})
	ch, unsub := s.Subscribe()
	defer unsub()

	s.Update([]procmodel.Process{proc(1, procmodel.LevelHIGH, 1.0)})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification when level changes")
	}
}

func TestStore_GetByPID(t *testing.T) {
	s := New()
	s.Update([]procmodel.Process{proc(1, procmodel.LevelLOW, 1.0), proc(2, procmodel.LevelHIGH, 2.0)})

	p, ok := s.Get(2)
	require.True(t, ok)
	assert.Equal(t, procmodel.LevelHIGH, p.Level)

	_, ok = s.Get(999)
	assert.False(t, ok)
}

func TestSortRows_CriticalFirstThenCPUDescending(t *testing.T) {
	rows := []procmodel.Process{
		proc(1, procmodel.LevelLOW, 50),
		proc(2, procmodel.LevelCRITICAL, 10),
		proc(3, procmodel.LevelCRITICAL, 90),
		proc(4, procmodel.LevelMED, 5),
	}
	SortRows(rows)

	assert.Equal(t, []int{3, 2, 4, 1}, []int{rows[0].PID, rows[1].PID, rows[2].PID, rows[3].PID})
}

func TestStore_SubscribeUnsubscribe(t *testing.T) {
	s := New()
	_, unsub := s.Subscribe()
	assert.Equal(t, 1, s.SubscriberCount())
	unsub()
	assert.Equal(t, 0, s.SubscriberCount())
}
