package engine

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/shellgate/internal/session"
)

// OneShot runs a single command in a freshly spawned, throwaway session
// and destroys it regardless of outcome, per spec.md §4.4's one-shot
// execution mode — useful for callers that want a single result without
// managing session lifecycle themselves.
func OneShot(ctx context.Context, store *session.Store, opts session.CreateOptions, command string, execOpts Options) (Result, error) {
	sess, err := store.Create(ctx, opts)
	if err != nil {
		return Result{}, fmt.Errorf("engine: spawn one-shot session: %w", err)
	}
	defer store.Delete(sess.ID)

	return Execute(ctx, sess, command, execOpts)
}
