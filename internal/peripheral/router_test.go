package peripheral

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	got []Notification
}

func (s *recordingSink) Deliver(n Notification) { s.got = append(s.got, n) }

func TestRouter_ListenerReplacement(t *testing.T) {
	sink := &recordingSink{}
	r := NewRouter(sink, logrus.New())

	assert.False(t, r.Dispatch(CategoryValueChanged, ValueChange{}), "no listener yet")

	r.SetListener(CategoryValueChanged, "cb-1")
	r.SetListener(CategoryValueChanged, "cb-2")
	assert.True(t, r.Dispatch(CategoryValueChanged, ValueChange{Value: []byte{1}}))
	assert.True(t, r.Dispatch(CategoryValueChanged, ValueChange{Value: []byte{2}}))

	require.Len(t, sink.got, 2)
	for _, n := range sink.got {
		assert.Equal(t, CallbackHandle("cb-2"), n.Handle)
		assert.Equal(t, CategoryValueChanged, n.Category)
	}

	r.SetListener(CategoryValueChanged, "")
	_, ok := r.Listener(CategoryValueChanged)
	assert.False(t, ok)
}

func TestRouter_OneShotSlots(t *testing.T) {
	r := NewRouter(nil, logrus.New())

	var results []error
	require.NoError(t, r.Open(opPublish, "1234#1", func(err error) { results = append(results, err) }))
	assert.True(t, IsKind(r.Open(opPublish, "1234#1", func(error) {}), KindInternalProtocolError))
	assert.Equal(t, 1, r.Pending(opPublish))
	assert.Equal(t, 0, r.Pending(opAdvertise))

	require.NoError(t, r.Resolve(opPublish, "1234#1", nil))
	assert.Equal(t, []error{nil}, results)
	assert.False(t, r.IsOpen(opPublish, "1234#1"))

	err := r.Resolve(opPublish, "1234#1", nil)
	assert.True(t, IsKind(err, KindInternalProtocolError), "second resolve must fail")
	assert.Len(t, results, 1)
}

func TestRouter_FailRetiresSlot(t *testing.T) {
	r := NewRouter(nil, logrus.New())

	var got error
	require.NoError(t, r.Open(opAdvertise, "advertise#7", func(err error) { got = err }))
	r.MarkSubmitted(opAdvertise, "advertise#7")
	cause := errors.New("power lost")
	assert.Equal(t, 1, r.FailAll(opAdvertise, cause))
	assert.Equal(t, cause, got)

	// a late stack outcome for the retired slot is discarded quietly
	assert.NoError(t, r.Resolve(opAdvertise, "advertise#7", nil))
	// but only once
	assert.Error(t, r.Resolve(opAdvertise, "advertise#7", nil))
	assert.False(t, r.Fail(opAdvertise, "advertise#7", cause))
	assert.Equal(t, 0, r.Retired())
}

func TestRouter_FailBeforeSubmitIsForgotten(t *testing.T) {
	// GOAL: Verify slots failed before reaching the stack leave nothing behind
	//
	// TEST SCENARIO: open many never-submitted slots → FailAll → nothing retired, a stray outcome is a protocol error
	r := NewRouter(nil, logrus.New())
	cause := errors.New("bluetooth is poweredOff")

	for i := 0; i < 100; i++ {
		require.NoError(t, r.Open(opPublish, fmt.Sprintf("1234#%d", i), func(error) {}))
	}
	assert.Equal(t, 100, r.FailAll(opPublish, cause))
	assert.Equal(t, 0, r.Retired())
	assert.True(t, IsKind(r.Resolve(opPublish, "1234#0", nil), KindInternalProtocolError))

	require.NoError(t, r.Open(opPublish, "1234#100", func(error) {}))
	r.MarkSubmitted(opPublish, "1234#100")
	r.MarkSubmitted(opPublish, "never-opened")
	assert.Equal(t, 1, r.FailAll(opPublish, cause))
	assert.Equal(t, 1, r.Retired())
	assert.NoError(t, r.Resolve(opPublish, "1234#100", nil))
	assert.Equal(t, 0, r.Retired())
}

func TestChannelSink_DropsOldestAndKeepsHistory(t *testing.T) {
	s := NewChannelSink(2, 8)
	for i := 0; i < 5; i++ {
		s.Deliver(Notification{Handle: CallbackHandle(string(rune('a' + i))), Category: CategoryStateChanged})
	}

	var got []CallbackHandle
	for i := 0; i < 2; i++ {
		n := <-s.C()
		got = append(got, n.Handle)
	}
	assert.Equal(t, []CallbackHandle{"d", "e"}, got)

	dropped := s.DrainDropped()
	require.Len(t, dropped, 3)
	assert.Equal(t, CallbackHandle("a"), dropped[0].Handle)
	assert.Empty(t, s.DrainDropped())
	assert.Equal(t, int64(3), s.Metrics().Overwritten)

	s.Close()
	s.Deliver(Notification{Handle: "late"})
	_, open := <-s.C()
	assert.False(t, open)
}

func TestFuncSink(t *testing.T) {
	var got []Notification
	sink := FuncSink(func(n Notification) { got = append(got, n) })
	r := NewRouter(sink, nil)
	r.SetListener(CategoryStateChanged, "state")
	r.Dispatch(CategoryStateChanged, StatePayload{State: StatePoweredOn})
	require.Len(t, got, 1)
	assert.Equal(t, StatePayload{State: StatePoweredOn}, got[0].Payload)
}

func TestPendingTable_ExpiresOnce(t *testing.T) {
	posted := make(chan func(), 4)
	table := newPendingTable(10*time.Millisecond, func(fn func()) { posted <- fn })

	var expired []RequestID
	require.NoError(t, table.add(&pendingRequest{id: 1, central: "c1"}, func(r *pendingRequest) { expired = append(expired, r.id) }))
	assert.True(t, IsKind(table.add(&pendingRequest{id: 1}, nil), KindInternalProtocolError))

	select {
	case fn := <-posted:
		fn()
	case <-time.After(time.Second):
		require.Fail(t, "timer never fired")
	}
	assert.Equal(t, []RequestID{1}, expired)
	assert.Equal(t, 0, table.len())

	_, err := table.take(1)
	assert.True(t, IsKind(err, KindInternalProtocolError), "late answer must be rejected")
}

func TestPendingTable_AnsweredBeforeExpiry(t *testing.T) {
	posted := make(chan func(), 4)
	table := newPendingTable(time.Hour, func(fn func()) { posted <- fn })

	require.NoError(t, table.add(&pendingRequest{id: 5, central: "c1"}, func(*pendingRequest) {
		t.Error("must not expire")
	}))
	require.NoError(t, table.add(&pendingRequest{id: 6, central: "c2"}, nil))

	r, err := table.take(5)
	require.NoError(t, err)
	assert.Equal(t, "c1", r.central)

	dropped := table.dropCentral("c2")
	require.Len(t, dropped, 1)
	assert.Equal(t, RequestID(6), dropped[0].id)
	assert.Equal(t, 0, table.len())
}

func TestSubscriptions(t *testing.T) {
	s := newSubscriptions()
	h := CharacteristicHandle{Service: "1234", UUID: "5678"}
	other := CharacteristicHandle{Service: "1234", UUID: "9999"}

	assert.True(t, s.add(h, "central-b"))
	assert.True(t, s.add(h, "central-a"))
	assert.False(t, s.add(h, "central-a"))
	assert.True(t, s.add(other, "central-a"))
	assert.Equal(t, []string{"central-a", "central-b"}, s.centrals(h))

	assert.Equal(t, 2, s.removeCentral("central-a"))
	assert.Equal(t, []string{"central-b"}, s.centrals(h))
	assert.Empty(t, s.centrals(other))

	assert.True(t, s.remove(h, "central-b"))
	assert.False(t, s.remove(h, "central-b"))
}
