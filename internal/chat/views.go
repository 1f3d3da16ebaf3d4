package chat

import (
	"context"
	"sync"
)

// ActiveViews is the in-memory ViewTracker: a guarded userID -> chatID map.
// It is the single-process default; the redis-backed implementation in
// internal/presence replaces it for multi-process deployments.
type ActiveViews struct {
	mu      sync.RWMutex
	viewing map[string]string
}

// NewActiveViews returns an empty tracker.
func NewActiveViews() *ActiveViews {
	return &ActiveViews{viewing: make(map[string]string)}
}

var _ ViewTracker = (*ActiveViews)(nil)

// Enter records that the user has the conversation open. A user views at
// most one conversation at a time, so any previous entry is replaced.
func (v *ActiveViews) Enter(ctx context.Context, userID, chatID string) error {
	v.mu.Lock()
	v.viewing[userID] = chatID
	v.mu.Unlock()
	return nil
}

// Leave clears the entry only if it still points at chatID, so a stale leave
// for a conversation the user already navigated away from is a no-op.
func (v *ActiveViews) Leave(ctx context.Context, userID, chatID string) error {
	v.mu.Lock()
	if v.viewing[userID] == chatID {
		delete(v.viewing, userID)
	}
	v.mu.Unlock()
	return nil
}

// Clear drops the user's entry unconditionally.
func (v *ActiveViews) Clear(ctx context.Context, userID string) error {
	v.mu.Lock()
	delete(v.viewing, userID)
	v.mu.Unlock()
	return nil
}

// Viewing reports whether the user currently has the conversation open.
func (v *ActiveViews) Viewing(ctx context.Context, userID, chatID string) (bool, error) {
	v.mu.RLock()
	current, ok := v.viewing[userID]
	v.mu.RUnlock()
	return ok && current == chatID, nil
}
