package builder

import (
	"os/exec"
	"syscall"

	"github.com/appfoundry/buildfleet/pkg/types"
)

// exitStageError synthesizes the notification spec.md §4.3 step 6
// requires when the build child exits non-zero without a prior IPC
// terminal message: {"Process exited abnormally ({signal}): {code}",
// same}.
func exitStageError(err error) *types.StageError {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return types.NewStageError(err.Error(), err.Error())
	}

	signal := "none"
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		signal = ws.Signal().String()
	}
	return types.ExitError(signal, exitErr.ExitCode())
}
