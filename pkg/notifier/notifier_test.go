package notifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/appfoundry/buildfleet/pkg/queue"
	"github.com/appfoundry/buildfleet/pkg/types"
)

func failIfError(err error, t *testing.T) {
	if err != nil {
		t.Fatal(err)
	}
}

func assertEq(a, b interface{}, t *testing.T) {
	if a != b {
		t.Fatalf("Expected %#v and %#v to be equal", a, b)
	}
}

type fakeUploader struct {
	err   error
	calls int
}

func (f *fakeUploader) PostResult(ctx context.Context, code string, data any, resultPath, logPath string) error {
	f.calls++
	return f.err
}

func newTestNotifier(t *testing.T, backend ResultUploader, env types.Environment) (*Notifier, *queue.Queue) {
	root := t.TempDir()
	q, err := queue.Open(filepath.Join(root, "queue.db"))
	failIfError(err, t)
	t.Cleanup(func() { q.Close() })

	n := &Notifier{
		Log:     log.New(os.Stderr, "[notifier-test] ", 0),
		Paths:   types.NewPaths(root),
		Queue:   q,
		Backend: backend,
		Env:     env,
	}
	return n, q
}

func TestIterateIdleQueueIsANoop(t *testing.T) {
	n, _ := newTestNotifier(t, &fakeUploader{}, types.Production)
	failIfError(n.Iterate(context.Background()), t)
}

func TestIterateDeliversAndCleansWorkspace(t *testing.T) {
	backend := &fakeUploader{}
	n, q := newTestNotifier(t, backend, types.Production)

	note := types.Notification{Code: "abc", Platform: types.Android, StartTime: 1000}
	root := n.Paths.ProjectRoot(note.Code, note.StartTime)
	failIfError(os.MkdirAll(root, 0755), t)
	failIfError(q.Enqueue(note), t)

	failIfError(n.Iterate(context.Background()), t)

	assertEq(backend.calls, 1, t)
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatal("expected the workspace to be cleaned up after a successful delivery in production")
	}

	depth, err := q.Len()
	failIfError(err, t)
	assertEq(depth, 0, t)
}

func TestIterateRetainsWorkspaceInDevelop(t *testing.T) {
	backend := &fakeUploader{}
	n, q := newTestNotifier(t, backend, types.Develop)

	note := types.Notification{Code: "keepme", Platform: types.IOS, StartTime: 2000}
	root := n.Paths.ProjectRoot(note.Code, note.StartTime)
	failIfError(os.MkdirAll(root, 0755), t)
	failIfError(q.Enqueue(note), t)

	failIfError(n.Iterate(context.Background()), t)

	if _, err := os.Stat(root); err != nil {
		t.Fatal("expected the workspace to survive a successful delivery in develop")
	}
}

func TestIterateLeavesMessageInFlightOnPostFailure(t *testing.T) {
	backend := &fakeUploader{err: fmt.Errorf("connection refused")}
	n, q := newTestNotifier(t, backend, types.Production)

	note := types.Notification{Code: "retryme", Platform: types.Android, StartTime: 3000}
	failIfError(q.Enqueue(note), t)

	failIfError(n.Iterate(context.Background()), t)

	depth, err := q.Len()
	failIfError(err, t)
	assertEq(depth, 1, t)
}

func TestIterateDiscardsAfterMaxRetries(t *testing.T) {
	backend := &fakeUploader{}
	n, q := newTestNotifier(t, backend, types.Production)

	note := types.Notification{Code: "toomany", Platform: types.Android, StartTime: 4000}
	failIfError(q.Enqueue(note), t)

	// Drive the visibility window far enough into the past that the
	// final dequeue below is already visible to a real time.Now() call,
	// without waiting on the wall clock.
	synthetic := time.Now().Add(-24 * time.Hour)
	for i := 0; i < MaxRetries+1; i++ {
		_, err := q.Dequeue(synthetic)
		failIfError(err, t)
		synthetic = synthetic.Add(queue.VisibilityTimeout + time.Second)
	}

	failIfError(n.Iterate(context.Background()), t)

	assertEq(backend.calls, 0, t)
	depth, err := q.Len()
	failIfError(err, t)
	assertEq(depth, 0, t)
}

func TestIterateDiscardsMalformedNotification(t *testing.T) {
	backend := &fakeUploader{}
	n, q := newTestNotifier(t, backend, types.Production)

	failIfError(q.Enqueue(types.Notification{}), t)

	failIfError(n.Iterate(context.Background()), t)

	assertEq(backend.calls, 0, t)
	depth, err := q.Len()
	failIfError(err, t)
	assertEq(depth, 0, t)
}
