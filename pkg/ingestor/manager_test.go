package ingestor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vaultproxy/internal/logger"
	"vaultproxy/pkg/ringbuffer"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() logger.Logger {
	return logger.NewLogger(nopWriter{}, logger.ErrorLevel)
}

type fakeIngestor struct {
	*Base
	startErr error
	stopped  bool
}

func (f *fakeIngestor) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.SetState(StateConnected, "")
	return nil
}

func (f *fakeIngestor) Stop() {
	f.stopped = true
	f.SetState(StateStopped, "")
}

func newFakeConn(caller, conn, instance string, startErr error) RegisteredConnection {
	key := "fake:" + conn
	Register(key, func(cfg Config) (Ingestor, error) {
		return &fakeIngestor{
			Base:     NewBase(cfg.ConnectionAlias, cfg.InstanceID, "fake", conn, cfg.BufferSize, cfg.BootEpochSeconds),
			startErr: startErr,
		}, nil
	})
	return RegisteredConnection{
		CallerAlias:     caller,
		ConnectionAlias: conn,
		InstanceID:      instance,
		RegistryKey:     key,
		Config:          Config{ConnectionAlias: conn, InstanceID: instance, BootEpochSeconds: 1000},
	}
}

func TestStartAllStartsEveryHealthyIngestorAndSkipsFailures(t *testing.T) {
	m := NewManager(testLogger())

	good := newFakeConn("acme", "good-conn", "", nil)
	bad := newFakeConn("acme", "bad-conn", "", assert.AnError)

	m.StartAll([]RegisteredConnection{good, bad})

	statuses := m.GetStatus("acme")
	assert.Len(t, statuses, 1)
	assert.Equal(t, StateConnected, statuses[0].State)
}

func TestGetEventsLooksUpByCallerConnectionAndInstance(t *testing.T) {
	m := NewManager(testLogger())
	conn := newFakeConn("acme", "orders", "inst-a", nil)
	m.StartAll([]RegisteredConnection{conn})

	events := m.GetEvents("acme", "orders", "inst-a", 0)
	assert.Equal(t, []ringbuffer.IngestedEvent(nil), events)

	assert.Nil(t, m.GetEvents("acme", "orders", "wrong-instance", 0))
	assert.Nil(t, m.GetEvents("other-caller", "orders", "inst-a", 0))
}

func TestGetAllEventsOnlyCollectsMatchingCallerSortedByReceivedAt(t *testing.T) {
	m := NewManager(testLogger())
	connA := newFakeConn("acme", "conn-a", "", nil)
	connB := newFakeConn("acme", "conn-b", "", nil)
	connOther := newFakeConn("globex", "conn-c", "", nil)
	m.StartAll([]RegisteredConnection{connA, connB, connOther})

	instA := m.instances["acme:conn-a"].(*fakeIngestor)
	instB := m.instances["acme:conn-b"].(*fakeIngestor)
	instOther := m.instances["globex:conn-c"].(*fakeIngestor)

	instA.PushEvent("msg", "a1", "a1")
	instB.PushEvent("msg", "b1", "b1")
	instOther.PushEvent("msg", "c1", "c1")

	all := m.GetAllEvents("acme", 0)
	assert.Len(t, all, 2)
	for _, e := range all {
		assert.NotEqual(t, "c1", e.Data)
	}
}

func TestStopAllStopsEveryInstanceAndClearsTheTable(t *testing.T) {
	m := NewManager(testLogger())
	conn := newFakeConn("acme", "stoppable", "", nil)
	m.StartAll([]RegisteredConnection{conn})

	inst := m.instances["acme:stoppable"].(*fakeIngestor)

	m.StopAll()

	assert.True(t, inst.stopped)
	assert.Empty(t, m.GetStatus("acme"))
}

func TestWebhookTargetsFiltersByPredicate(t *testing.T) {
	m := NewManager(testLogger())
	conn := newFakeConn("acme", "webhookable", "", nil)
	m.StartAll([]RegisteredConnection{conn})

	matches := m.WebhookTargets(func(Ingestor) bool { return true })
	assert.Len(t, matches, 1)

	none := m.WebhookTargets(func(Ingestor) bool { return false })
	assert.Empty(t, none)
}
