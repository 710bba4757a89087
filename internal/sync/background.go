package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	backendsync "crmsync/backend/sync"
	"crmsync/internal/utils"
)

// BackgroundSyncCommand is the hidden CLI command a spawned process runs.
const BackgroundSyncCommand = "_internal_background_sync"

// SpawnBackgroundSync spawns a detached background process to push the queue
// This allows the main CLI to exit immediately while sync continues.
// args are appended after the hidden command name.
func SpawnBackgroundSync(args ...string) error {
	// Get the current executable path
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	// Resolve symlinks
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return err
	}

	cmd := exec.Command(executable, append([]string{BackgroundSyncCommand}, args...)...)

	// Detach from parent process
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	// Start the process and don't wait for it
	return cmd.Start()
}

// RunBackgroundSyncInProcess checks that the remote is reachable and runs a
// single pass, bounded by timeout. Progress goes to the background log file.
func RunBackgroundSyncInProcess(ctx context.Context, manager *backendsync.SyncManager, timeout time.Duration) error {
	// Set up background logger
	bgLogger, err := utils.NewBackgroundLogger()
	if err != nil {
		utils.Debugf("Background logging unavailable: %v", err)
	}
	defer bgLogger.Close()
	bgLogger.Printf("Started in-process sync at %s (PID: %d)", time.Now().Format(time.RFC3339), os.Getpid())

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, ProbeTimeout)
	err = manager.GetRemote().Ping(pingCtx)
	pingCancel()
	if err != nil {
		bgLogger.Printf("Skipping sync, remote unreachable: %v", err)
		return nil
	}

	result, err := manager.RunPass(ctx)
	if err != nil {
		bgLogger.Printf("Sync pass error: %v", err)
		return err
	}
	if result.Skipped != "" {
		bgLogger.Printf("Sync pass skipped: %s", result.Skipped)
	} else {
		bgLogger.Printf("Sync pass completed: %d synced, %d failed in %s",
			result.Succeeded, result.Failed, result.Duration)
		for _, itemErr := range result.Errors {
			bgLogger.Printf("  %v", itemErr)
		}
	}

	bgLogger.Printf("Finished at %s", time.Now().Format(time.RFC3339))
	return nil
}
