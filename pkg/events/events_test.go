package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/async"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/sqltest"
)

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]Event
	err    error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]Event)}
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[subject] = append(p.events[subject], event)
	return p.err
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[subject])
}

func TestNewEvent(t *testing.T) {
	event, err := NewEvent(SubjectRoleDeleted, RoleDeletedPayload{RoleID: 7, RoleName: "auditor"})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, SubjectRoleDeleted, event.Type)

	var payload RoleDeletedPayload
	require.NoError(t, event.Decode(&payload))
	assert.Equal(t, int64(7), payload.RoleID)
	assert.Equal(t, "auditor", payload.RoleName)

	_, err = NewEvent("bad", make(chan int))
	assert.Error(t, err)
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	bus := NewRedisBus(client, "zodc", sqltest.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(ctx, SubjectUserLoggedOut, func(_ context.Context, e Event) error {
		received <- e
		return nil
	}))

	event, err := NewEvent(SubjectUserLoggedOut, UserLoggedOutPayload{UserID: 42, Reason: "logout"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, SubjectUserLoggedOut, event))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
		var payload UserLoggedOutPayload
		require.NoError(t, got.Decode(&payload))
		assert.Equal(t, int64(42), payload.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRedisBus_PublishFailsWhenServerDown(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	defer client.Close()
	srv.Close()

	bus := NewRedisBus(client, "", sqltest.Discard())
	event, err := NewEvent(SubjectUserCreated, UserCreatedPayload{UserID: 1})
	require.NoError(t, err)
	assert.Error(t, bus.Publish(context.Background(), SubjectUserCreated, event))
}

func TestMemoryBus(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []string
	require.NoError(t, bus.Subscribe(ctx, SubjectRoleDeleted, func(_ context.Context, e Event) error {
		mu.Lock()
		got = append(got, e.ID)
		mu.Unlock()
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, SubjectRoleDeleted, func(context.Context, Event) error {
		return errors.New("second handler failed")
	}))

	event, err := NewEvent(SubjectRoleDeleted, RoleDeletedPayload{RoleID: 1})
	require.NoError(t, err)
	assert.Error(t, bus.Publish(ctx, SubjectRoleDeleted, event))
	assert.Equal(t, []string{event.ID}, got)

	// Other subjects are not delivered
	require.NoError(t, bus.Publish(ctx, SubjectUserCreated, event))
	assert.Len(t, got, 1)

	cancel()
	assert.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subs[SubjectRoleDeleted]) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEmitter_BestEffort(t *testing.T) {
	pub := newRecordingPublisher()
	pub.err = errors.New("broker down")
	runner := async.NewRunner(sqltest.Discard(), time.Second)
	emitter := NewEmitter(pub, runner, sqltest.Discard())

	emitter.Emit(context.Background(), SubjectUserCreated, UserCreatedPayload{UserID: 1})
	require.NoError(t, runner.Wait(time.Second))
	assert.Equal(t, 1, pub.count(SubjectUserCreated))

	// Unmarshalable payloads are dropped before publishing
	emitter.Emit(context.Background(), SubjectUserCreated, make(chan int))
	require.NoError(t, runner.Wait(time.Second))
	assert.Equal(t, 1, pub.count(SubjectUserCreated))

	var nilEmitter *Emitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), SubjectUserCreated, nil) })
}
