// Package notifier drains the durable notification queue and uploads
// each job's terminal outcome to the backend (spec.md §4.5).
package notifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/appfoundry/buildfleet/pkg/metrics"
	"github.com/appfoundry/buildfleet/pkg/queue"
	"github.com/appfoundry/buildfleet/pkg/types"
)

// MaxRetries is the redelivery ceiling past which a message is
// discarded rather than retried forever (spec.md §4.5).
const MaxRetries = 20

// ResultUploader is the subset of pkg/backend.Client the Notifier
// needs.
type ResultUploader interface {
	PostResult(ctx context.Context, code string, data any, resultPath, logPath string) error
}

type Notifier struct {
	Log     *log.Logger
	Paths   types.Paths
	Queue   *queue.Queue
	Backend ResultUploader
	Env     types.Environment

	// Metrics is optional; nil disables the queue-depth gauge and the
	// notifications-by-outcome counter.
	Metrics *metrics.Recorder
}

// Iterate drains a single message and is wired as the
// lifecycle.Service's Iterate callback on a fixed 5s interval
// (spec.md §4.5, §4.1).
func (n *Notifier) Iterate(ctx context.Context) error {
	if n.Metrics != nil {
		if depth, err := n.Queue.Len(); err == nil {
			n.Metrics.QueueDepth.Set(float64(depth))
		}
	}

	lease, err := n.Queue.Dequeue(time.Now())
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if lease == nil {
		return nil // idle
	}

	if lease.Tries > MaxRetries {
		n.Log.Printf("discarding %s after %d tries", lease.Notification.Code, lease.Tries)
		n.cleanWorkspace(lease.Notification)
		n.countOutcome("discarded")
		return n.Queue.Ack(lease.Key)
	}

	if lease.Notification.Code == "" {
		n.Log.Printf("discarding malformed notification")
		n.cleanWorkspace(lease.Notification)
		n.countOutcome("malformed")
		return n.Queue.Ack(lease.Key)
	}

	if err := n.Queue.Ping(lease.Key, time.Now()); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	root := n.Paths.ProjectRoot(lease.Notification.Code, lease.Notification.StartTime)
	resultPath, logPath := n.attachmentPaths(root)

	data := map[string]string{
		"platform":    string(lease.Notification.Platform),
		"user_error":  lease.Notification.MsgPublic,
		"staff_error": lease.Notification.MsgInternal,
		"machine":     hostname(),
	}

	err = n.Backend.PostResult(ctx, lease.Notification.Code, data, resultPath, logPath)
	if err != nil {
		n.Log.Printf("post result failed (will retry): %s", err)
		n.countOutcome("retry")
		return nil // leave in-flight; redelivered after the visibility window
	}

	if err := n.Queue.Ack(lease.Key); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if !n.Env.RetainWorkspaces() {
		n.cleanWorkspace(lease.Notification)
	}
	n.countOutcome("delivered")
	return nil
}

func (n *Notifier) countOutcome(outcome string) {
	if n.Metrics != nil {
		n.Metrics.Notifications.WithLabelValues(outcome).Inc()
	}
}

// attachmentPaths locates the first file directly under root/out (the
// single artifact pack() produced) and the captured stdout log, both
// skipped by pkg/backend if absent.
func (n *Notifier) attachmentPaths(root string) (resultPath, logPath string) {
	outDir := filepath.Join(root, types.OutDir)
	entries, err := os.ReadDir(outDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				resultPath = filepath.Join(outDir, e.Name())
				break
			}
		}
	}
	logPath = filepath.Join(root, types.StdoutLogFname)
	return resultPath, logPath
}

func (n *Notifier) cleanWorkspace(note types.Notification) {
	root := n.Paths.ProjectRoot(note.Code, note.StartTime)
	if err := os.RemoveAll(root); err != nil {
		n.Log.Printf("could not clean workspace %s: %s", root, err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
