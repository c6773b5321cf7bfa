package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/strealome/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoom() *Room {
	return NewRoom("abcdefgh", 1, "Room1", RoomOptions{SendTimeout: 20 * time.Millisecond})
}

func recv(t *testing.T, ch <-chan *Signal) *Signal {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no signal received")
		return nil
	}
}

func assertEmpty(t *testing.T, ch <-chan *Signal) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected signal %+v", s.Payload)
	default:
	}
}

func TestRoomJoinBroadcastsToOthers(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom()
	c1, c2 := make(chan *Signal, 4), make(chan *Signal, 4)

	require.NoError(t, r.Join(ctx, 1, c1))
	assertEmpty(t, c1)
	require.NoError(t, r.Join(ctx, 2, c2))

	assert.Equal(t, 2, r.Len())
	sig := recv(t, c1)
	assert.Equal(t, SystemAuthor, sig.Author)
	assert.Equal(t, JoinEvent{UserID: 2, NewMemberCount: 2}, sig.Payload)
	assertEmpty(t, c2)
}

func TestRoomJoinTwice(t *testing.T) {
	r := newTestRoom()
	require.NoError(t, r.Join(context.Background(), 1, make(chan *Signal, 1)))
	err := r.Join(context.Background(), 1, make(chan *Signal, 1))
	assert.ErrorIs(t, err, ErrUserAlreadyInRoom)
	assert.Equal(t, 1, r.Len())
}

func TestRoomConcurrentDuplicateJoin(t *testing.T) {
	r := newTestRoom()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Join(context.Background(), 5, make(chan *Signal, 1))
		}()
	}
	wg.Wait()

	ok, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrUserAlreadyInRoom):
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestRoomLeave(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom()
	c1, c2 := make(chan *Signal, 4), make(chan *Signal, 4)
	require.NoError(t, r.Join(ctx, 1, c1))
	require.NoError(t, r.Join(ctx, 2, c2))
	<-c1

	require.NoError(t, r.Leave(ctx, 1))
	assert.Equal(t, LeaveEvent{UserID: 1, NewMemberCount: 1}, recv(t, c2).Payload)
	assertEmpty(t, c1)

	assert.ErrorIs(t, r.Leave(ctx, 1), ErrUserNotInRoom)
	assert.ErrorIs(t, r.Contains(1), ErrUserNotInRoom)
	assert.NoError(t, r.Contains(2))
}

func TestRoomBroadcastSkipsAuthor(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom()
	chans := map[domain.UserID]chan *Signal{}
	for id := domain.UserID(1); id <= 3; id++ {
		chans[id] = make(chan *Signal, 8)
		require.NoError(t, r.Join(ctx, id, chans[id]))
	}
	for _, ch := range chans {
		for len(ch) > 0 {
			<-ch
		}
	}

	sig := NewSignal(100, 2, ChatEvent{Message: ChatMessage{ID: 1, AuthorID: 2, Content: "hi"}})
	require.NoError(t, r.Broadcast(ctx, 2, sig))

	assert.Same(t, sig, recv(t, chans[1]))
	assert.Same(t, sig, recv(t, chans[3]))
	assertEmpty(t, chans[2])
}

func TestRoomBroadcastPartialLoss(t *testing.T) {
	ctx := context.Background()
	r := newTestRoom()
	fast := make(chan *Signal, 8)
	stuck := make(chan *Signal) // nobody reads
	require.NoError(t, r.Join(ctx, 1, fast))
	err := r.Join(ctx, 2, stuck)
	require.NoError(t, err)
	<-fast

	start := time.Now()
	err = r.Broadcast(ctx, SystemAuthor, NewSignal(1, SystemAuthor, TransferEvent{NewHostID: 1}))
	elapsed := time.Since(start)

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, 1, de.Lost)
	assert.Equal(t, 2, de.Total)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, TransferEvent{NewHostID: 1}, recv(t, fast).Payload)
}

func TestRoomSlowMemberDoesNotStallOthers(t *testing.T) {
	ctx := context.Background()
	r := NewRoom("slowroom", 1, "x", RoomOptions{SendTimeout: time.Second})
	slow := make(chan *Signal)
	fast := make(chan *Signal, 1)
	r.members.Store(1, slow)
	r.members.Store(2, fast)

	go func() {
		time.Sleep(50 * time.Millisecond)
		<-slow
	}()
	require.NoError(t, r.Broadcast(ctx, SystemAuthor, NewSignal(1, SystemAuthor, Pong{})))
	assert.Len(t, fast, 1)
}

func TestRoomHostAndName(t *testing.T) {
	r := newTestRoom()
	assert.Equal(t, domain.UserID(1), r.HostID())
	r.SetHost(4)
	assert.Equal(t, domain.UserID(4), r.HostID())
	assert.False(t, r.SwapHost(1, 5))
	assert.True(t, r.SwapHost(4, 5))
	assert.Equal(t, domain.UserID(5), r.HostID())

	r.SetName("renamed")
	assert.Equal(t, "renamed", r.Name())
	assert.Equal(t, domain.RoomLink("abcdefgh"), r.Link())
}

func TestRoomMembersSorted(t *testing.T) {
	r := newTestRoom()
	for _, id := range []domain.UserID{9, 3, 5} {
		r.members.Store(id, make(chan *Signal, 1))
	}
	assert.Equal(t, []domain.UserID{3, 5, 9}, r.Members())
	r.Drop(5)
	assert.Equal(t, []domain.UserID{3, 9}, r.Members())
}
