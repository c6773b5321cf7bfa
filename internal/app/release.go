package app

import (
	"sync/atomic"

	"github.com/dkeye/strealome/internal/core"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	taskPending int32 = iota
	taskCancelled
	taskFired
)

// releaseTask is the deferred removal of one empty room. Exactly one of
// cancel and fire wins.
type releaseTask struct {
	state atomic.Int32
	timer clockwork.Timer
}

func (t *releaseTask) finished() bool { return t.state.Load() != taskPending }

func (t *releaseTask) cancel() bool {
	if !t.state.CompareAndSwap(taskPending, taskCancelled) {
		return false
	}
	t.timer.Stop()
	return true
}

func (t *releaseTask) fire() bool {
	return t.state.CompareAndSwap(taskPending, taskFired)
}

// armRelease schedules removal of an empty room. Arming an armed room
// is a no-op.
func (r *Registry) armRelease(link domain.RoomLink) error {
	err := core.ErrRoomNotFound
	r.rooms.Compute(link, func(room *core.Room, loaded bool) (*core.Room, bool) {
		if !loaded {
			return room, true
		}
		if room.Len() > 0 {
			err = core.ErrRoomNotEmpty
			return room, false
		}
		err = nil
		r.releases.Compute(link, func(task *releaseTask, loaded bool) (*releaseTask, bool) {
			if !loaded {
				return r.startRelease(link), false
			}
			if task.finished() {
				err = core.ErrRoomReleased
				return task, true
			}
			return task, false
		})
		return room, false
	})
	return err
}

func (r *Registry) startRelease(link domain.RoomLink) *releaseTask {
	task := &releaseTask{}
	// The timer must exist before anyone can see the task.
	task.timer = r.clock.AfterFunc(r.releaseAfter, func() { r.expire(link, task) })
	log.Debug().Str("module", "app.release").Str("link", string(link)).Dur("after", r.releaseAfter).Msg("release armed")
	return task
}

// disarmRelease cancels the pending release of a room that has members
// again. If the release already fired and joiner is alone in the room,
// joiner is dropped in the same step so the expiry sees it empty; the
// fired task stays for that expiry, and for any other lone joiner, to
// find. If others are in the room the expiry will keep it, so joiner
// stays too.
func (r *Registry) disarmRelease(link domain.RoomLink, joiner domain.UserID) error {
	err := core.ErrRoomNotFound
	r.rooms.Compute(link, func(room *core.Room, loaded bool) (*core.Room, bool) {
		if !loaded {
			return room, true
		}
		if room.Len() == 0 {
			err = core.ErrRoomEmpty
			return room, false
		}
		err = core.ErrRoomNotReleasing
		r.releases.Compute(link, func(task *releaseTask, loaded bool) (*releaseTask, bool) {
			if !loaded {
				return task, true
			}
			if task.finished() || !task.cancel() {
				if room.Len() > 1 {
					err = nil
					return task, false
				}
				err = core.ErrRoomReleased
				room.Drop(joiner)
				return task, false
			}
			err = nil
			return task, true
		})
		return room, false
	})
	if err == nil {
		log.Debug().Str("module", "app.release").Str("link", string(link)).Msg("release disarmed")
	}
	return err
}

// expire runs when a release timer elapses.
func (r *Registry) expire(link domain.RoomLink, task *releaseTask) {
	if !task.fire() {
		return
	}
	r.release(link, task)
}

// release removes the room of a fired task unless someone is in it.
func (r *Registry) release(link domain.RoomLink, task *releaseTask) {
	var host domain.UserID
	released := false
	r.rooms.Compute(link, func(room *core.Room, loaded bool) (*core.Room, bool) {
		if !loaded {
			return room, true
		}
		r.releases.Compute(link, func(cur *releaseTask, loaded bool) (*releaseTask, bool) {
			return cur, !loaded || cur == task
		})
		if room.Len() > 0 {
			// A join landed before the timer.
			return room, false
		}
		host = room.HostID()
		released = true
		r.unindexHost(host, link)
		return room, true
	})
	if released {
		log.Info().Str("module", "app.release").Str("link", string(link)).Int64("host", int64(host)).Msg("room released")
	}
}
