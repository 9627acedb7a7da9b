// Package builder implements the per-job acquisition loop (spec.md
// §4.3): fetch, spawn the build child, race its outcome against a
// watchdog, and enqueue a terminal notification.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/appfoundry/buildfleet/pkg/ipc"
	"github.com/appfoundry/buildfleet/pkg/metrics"
	"github.com/appfoundry/buildfleet/pkg/queue"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// Watchdog is the build child's hard wall-clock budget (spec.md §4.3
// step 5).
const Watchdog = 2_700_000 * time.Millisecond

// JobSource supplies the next job request, either from the backend
// (daemon mode) or a CLI-supplied path (one-shot mode).
type JobSource interface {
	FetchJob(ctx context.Context) (*types.JobRequest, error)
}

// Builder owns the single in-flight build child. Only one of its
// iterations ever runs concurrently — enforced by pkg/lifecycle, which
// never begins iteration N+1 before iteration N has returned.
type Builder struct {
	Log          *log.Logger
	Paths        types.Paths
	ConfigRoot   string
	Source       JobSource
	Queue        *queue.Queue
	ChildCommand string // path to the cmd/buildchild binary
	Env          types.Environment
	LogLevel     string

	// Metrics is optional; nil disables the builds-hosted gauge and the
	// build-duration histogram.
	Metrics *metrics.Recorder
}

// Iterate runs a single acquisition cycle and is wired as the
// lifecycle.Service's Iterate callback on a fixed 5s interval
// (spec.md §4.3, §4.1).
func (b *Builder) Iterate(ctx context.Context) error {
	if err := purgeIfLowOnDisk(b.Log); err != nil {
		b.Log.Printf("disk pressure purge failed (continuing): %s", err)
	}

	if _, err := os.Stat(b.Paths.ReadyLock()); err != nil {
		return nil // gate: cache not ready yet, skip this tick
	}

	if err := utils.EnsureDirExists(b.Paths.ProjectsDir()); err != nil {
		return fmt.Errorf("ensure projects dir: %w", err)
	}

	jr, err := b.Source.FetchJob(ctx)
	if err != nil {
		return fmt.Errorf("fetch job: %w", err)
	}
	if jr == nil {
		return nil // nothing queued
	}
	if err := jr.Validate(); err != nil {
		return fmt.Errorf("invalid job request: %w", err)
	}

	platform, err := types.ParsePlatform(jr.Platforms[0])
	if err != nil {
		return fmt.Errorf("parse platform: %w", err)
	}

	startTime := types.NowMillis(time.Now())
	job, err := types.NewJob(*jr, platform, startTime, b.Paths.ProjectsDir())
	if err != nil {
		return fmt.Errorf("resolve job: %w", err)
	}

	if err := utils.EnsureDirExists(job.RootPath); err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}

	jobJSON, err := json.Marshal(jr)
	if err != nil {
		return fmt.Errorf("marshal job request: %w", err)
	}
	if err := utils.AtomicWriteFile(job.ConfigJSONPath, jobJSON, 0644); err != nil {
		return fmt.Errorf("persist config.json: %w", err)
	}

	if b.Metrics != nil {
		b.Metrics.BuildsHosted.WithLabelValues(string(platform)).Inc()
		defer b.Metrics.BuildsHosted.WithLabelValues(string(platform)).Dec()
	}

	n := b.runChild(ctx, job)
	if err := b.Queue.Enqueue(n); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// runChild spawns the build child, races {IPC message, exit, watchdog,
// spawn error} via a once-latch, and returns the resulting
// Notification (spec.md §4.3 steps 4-7).
func (b *Builder) runChild(ctx context.Context, j *types.Job) types.Notification {
	n := types.Notification{Code: j.Code, Platform: j.Platform, StartTime: j.StartTime}
	attemptID := uuid.New().String()
	b.Log.Printf("attempt %s: building %s (%s)", attemptID, j.Code, j.Platform)
	started := time.Now()
	if b.Metrics != nil {
		defer func() {
			outcomeLabel := "success"
			if n.MsgInternal != "" {
				outcomeLabel = "failure"
			}
			b.Metrics.BuildDuration.WithLabelValues(string(j.Platform), outcomeLabel).Observe(time.Since(started).Seconds())
		}()
	}

	stdout, err := os.Create(j.StdoutLogPath)
	if err != nil {
		n.MsgInternal, n.MsgPublic = err.Error(), "Could not start the build."
		return n
	}
	defer stdout.Close()

	ipcRead, ipcWrite, err := os.Pipe()
	if err != nil {
		n.MsgInternal, n.MsgPublic = err.Error(), "Could not start the build."
		return n
	}
	defer ipcRead.Close()

	cmd := exec.CommandContext(ctx, b.ChildCommand,
		"--env", string(b.Env),
		"--log-level", b.LogLevel,
		"--json",
		"--path", j.ConfigJSONPath,
	)
	redacted := utils.NewRedactingWriter(stdout, j.RootPath)
	cmd.Stdout = redacted
	cmd.Stderr = redacted
	cmd.ExtraFiles = []*os.File{ipcWrite}

	latch := &onceLatch{}
	ipcResult := make(chan *ipc.Message, 1)
	go func() {
		msg, rerr := ipc.Receive(ipcRead)
		if rerr != nil {
			return
		}
		ipcResult <- msg
	}()

	if err := cmd.Start(); err != nil {
		ipcWrite.Close()
		n.MsgInternal, n.MsgPublic = err.Error(), "Could not start the build."
		return n
	}
	ipcWrite.Close()

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	watchdog := time.NewTimer(Watchdog)
	defer watchdog.Stop()

	select {
	case msg := <-ipcResult:
		latch.fire(toOutcome(msg))
		<-exitCh // reap the child
	case exitErr := <-exitCh:
		if exitErr != nil {
			se := exitStageError(exitErr)
			latch.fire(outcome{msgInternal: se.Message, msgPublic: se.MsgPublic})
		} else {
			latch.fire(outcome{})
		}
	case <-watchdog.C:
		if latch.fire(outcome{
			msgInternal: types.WatchdogError().Message,
			msgPublic:   types.WatchdogError().MsgPublic,
		}) {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			<-exitCh
		}
	}

	n.MsgInternal = latch.result.msgInternal
	n.MsgPublic = latch.result.msgPublic

	// The single cordova.log tail augmentation for this job (spec.md
	// §4.3 step 6), covering all four resolution paths above: pipeline.Run
	// itself never tails, so an IPC-carried stage failure gets exactly
	// the same treatment as a bare child-exit or watchdog failure.
	if n.MsgInternal != "" {
		if tail, terr := utils.TailBytes(j.CordovaLogPath, 10000); terr == nil {
			n.MsgPublic = types.NewStageError(n.MsgInternal, n.MsgPublic).WithCordovaTail(tail).MsgPublic
		}
	}
	return n
}

func toOutcome(msg *ipc.Message) outcome {
	if msg == nil {
		return outcome{}
	}
	return outcome{msgInternal: msg.MsgInternal, msgPublic: msg.MsgPublic}
}
