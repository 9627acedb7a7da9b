package queue

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/appfoundry/buildfleet/pkg/types"
)

func assertEq(a, b interface{}, t *testing.T) {
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Expected %#v and %#v to be equal", a, b)
	}
}

func failIfError(err error, t *testing.T) {
	if err != nil {
		t.Fatal(err)
	}
}

func newTestQueue(t *testing.T) *Queue {
	dir := t.TempDir()
	q, err := Open(filepath.Join(dir, "notifications.db"))
	failIfError(err, t)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := newTestQueue(t)

	n := types.Notification{Code: "A1", Platform: types.Android, StartTime: 1000}
	failIfError(q.Enqueue(n), t)

	now := time.Now()
	lease, err := q.Dequeue(now)
	failIfError(err, t)
	if lease == nil {
		t.Fatal("expected a lease, got nil")
	}
	assertEq(lease.Notification, n, t)
	assertEq(lease.Tries, 1, t)

	// not visible again until the visibility window elapses
	lease2, err := q.Dequeue(now)
	failIfError(err, t)
	if lease2 != nil {
		t.Fatal("expected message to be invisible before its visibility window elapses")
	}

	failIfError(q.Ack(lease.Key), t)

	l, err := q.Dequeue(now.Add(VisibilityTimeout + time.Second))
	failIfError(err, t)
	if l != nil {
		t.Fatal("expected no messages after ack")
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := newTestQueue(t)
	lease, err := q.Dequeue(time.Now())
	failIfError(err, t)
	if lease != nil {
		t.Fatal("expected nil lease for an empty queue")
	}
}

func TestPingExtendsVisibility(t *testing.T) {
	q := newTestQueue(t)
	n := types.Notification{Code: "A2", Platform: types.Ubuntu, StartTime: 2000}
	failIfError(q.Enqueue(n), t)

	now := time.Now()
	lease, err := q.Dequeue(now)
	failIfError(err, t)

	failIfError(q.Ping(lease.Key, now.Add(time.Minute)), t)

	// still invisible just past the original window, since ping extended it
	l, err := q.Dequeue(now.Add(VisibilityTimeout + time.Second))
	failIfError(err, t)
	if l != nil {
		t.Fatal("expected message to remain invisible after ping extended its window")
	}
}

func TestTriesIncrementsOnRedelivery(t *testing.T) {
	q := newTestQueue(t)
	n := types.Notification{Code: "A3", Platform: types.IOS, StartTime: 3000}
	failIfError(q.Enqueue(n), t)

	now := time.Now()
	for want := 1; want <= 3; want++ {
		lease, err := q.Dequeue(now)
		failIfError(err, t)
		if lease == nil {
			t.Fatalf("expected a lease on attempt %d", want)
		}
		assertEq(lease.Tries, want, t)
		now = now.Add(VisibilityTimeout + time.Second)
	}
}

func TestLen(t *testing.T) {
	q := newTestQueue(t)
	failIfError(q.Enqueue(types.Notification{Code: "A4", StartTime: 1}), t)
	failIfError(q.Enqueue(types.Notification{Code: "A5", StartTime: 2}), t)

	n, err := q.Len()
	failIfError(err, t)
	assertEq(n, 2, t)
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
