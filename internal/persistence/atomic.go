package persistence

import (
	"context"
	"fmt"
	"os"

	"perpengine/pkg/retry"
)

// AtomicWriteFile writes data to path by first writing to a sibling .tmp
// file, fsyncing it, then renaming over the target. Rename failures
// (platform permission quirks that disallow overwrite-rename while the
// target exists) are retried with exponential backoff per the on-disk
// contract — grounded on the teacher's tmp-write-then-rename pattern.
func AtomicWriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close tmp file: %w", err)
	}

	renamePolicy := retry.RetryPolicy{MaxAttempts: 3, InitialBackoff: retry.DefaultPolicy.InitialBackoff, MaxBackoff: retry.DefaultPolicy.MaxBackoff}
	return retry.Do(ctx, renamePolicy, func(error) bool { return true }, func() error {
		err := os.Rename(tmp, path)
		if err != nil {
			// Clear the target so the next attempt is not blocked by it.
			_ = os.Remove(path)
		}
		return err
	})
}
