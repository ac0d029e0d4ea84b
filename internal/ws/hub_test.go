package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aflahtk001/hospital-booking-system/internal/events"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.QueueEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.QueueEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", want, hub.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubRoutesEventsToDoctorRoom(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleQueueSocket))
	defer srv.Close()

	doctorA := uuid.New()
	doctorB := uuid.New()

	connA := dialHub(t, srv, "?doctor="+doctorA.String())
	connB := dialHub(t, srv, "?doctor="+doctorB.String())
	waitForSubscribers(t, hub, 2)

	token := 5
	hub.Publish(events.QueueEvent{
		DoctorID:    doctorA,
		Status:      events.StatusNextCalled,
		ActiveToken: &token,
		EmittedAt:   time.Now(),
	})
	hub.Publish(events.QueueEvent{
		DoctorID:  doctorB,
		Status:    events.StatusQueueEmpty,
		EmittedAt: time.Now(),
	})

	// Each room only sees its own doctor's event.
	evA := readEvent(t, connA)
	assert.Equal(t, doctorA, evA.DoctorID)
	assert.Equal(t, events.StatusNextCalled, evA.Status)
	require.NotNil(t, evA.ActiveToken)
	assert.Equal(t, 5, *evA.ActiveToken)

	evB := readEvent(t, connB)
	assert.Equal(t, doctorB, evB.DoctorID)
	assert.Equal(t, events.StatusQueueEmpty, evB.Status)
}

func TestHubGlobalSubscriberSeesAllRooms(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleQueueSocket))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	waitForSubscribers(t, hub, 1)

	first := uuid.New()
	second := uuid.New()
	hub.Publish(events.QueueEvent{DoctorID: first, Status: events.StatusQueueEmpty, EmittedAt: time.Now()})
	hub.Publish(events.QueueEvent{DoctorID: second, Status: events.StatusPatientSkipped, EmittedAt: time.Now()})

	assert.Equal(t, first, readEvent(t, conn).DoctorID)
	assert.Equal(t, second, readEvent(t, conn).DoctorID)
}

func TestHubPreservesPerDoctorOrder(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleQueueSocket))
	defer srv.Close()

	doctorID := uuid.New()
	conn := dialHub(t, srv, "?doctor="+doctorID.String())
	waitForSubscribers(t, hub, 1)

	for i := 1; i <= 10; i++ {
		token := i
		hub.Publish(events.QueueEvent{
			DoctorID:    doctorID,
			Status:      events.StatusNextCalled,
			ActiveToken: &token,
			EmittedAt:   time.Now(),
		})
	}

	for i := 1; i <= 10; i++ {
		ev := readEvent(t, conn)
		require.NotNil(t, ev.ActiveToken)
		assert.Equal(t, i, *ev.ActiveToken)
	}
}

func TestHubRejectsMalformedDoctorID(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleQueueSocket))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?doctor=not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubForgetsClosedConnections(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleQueueSocket))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	waitForSubscribers(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForSubscribers(t, hub, 0)
}
