package storage

import (
	"context"
	"fmt"

	"github.com/marmos91/dittomedia/internal/logger"
)

// CopyThenDelete implements Move for providers without a native rename.
//
// The source is only deleted after the copy succeeded. If deleting the
// source fails and dst did not exist before the move, the copy at dst is
// removed again so the caller observes the old layout. A dst that already
// existed has been overwritten by the copy and cannot be restored, so it is
// kept: the caller then finds the source bytes at both keys.
func CopyThenDelete(ctx context.Context, b Backend, src, dst string) error {
	if src == dst {
		return nil
	}

	dstExisted, err := b.Exists(ctx, dst)
	if err != nil {
		return fmt.Errorf("move %s -> %s: stat destination: %w", src, dst, err)
	}

	if err := b.Copy(ctx, src, dst); err != nil {
		return err
	}

	if err := b.Delete(ctx, src); err != nil {
		if dstExisted {
			logger.Warn("move %s -> %s: source left in place, overwritten destination kept", src, dst)
		} else if rbErr := b.Delete(ctx, dst); rbErr != nil {
			logger.Warn("move %s -> %s: rollback of copy failed: %v", src, dst, rbErr)
		}
		return fmt.Errorf("move %s -> %s: delete source: %w", src, dst, err)
	}
	return nil
}
