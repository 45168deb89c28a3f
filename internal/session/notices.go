package session

import (
	"context"
	"sync"

	"github.com/referral-dashboard/internal/types"
)

// NoticeBoard is a Prompter that queues notices for the presentation layer
// and answers switch prompts with a fixed policy.
type NoticeBoard struct {
	autoSwitch bool
	limit      int

	mu      sync.Mutex
	notices []types.Notice
}

// NewNoticeBoard creates a board keeping at most limit notices
func NewNoticeBoard(autoSwitch bool, limit int) *NoticeBoard {
	if limit <= 0 {
		limit = 32
	}
	return &NoticeBoard{autoSwitch: autoSwitch, limit: limit}
}

// Notify queues notice, dropping the oldest when full
func (b *NoticeBoard) Notify(notice types.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.notices = append(b.notices, notice)
	if over := len(b.notices) - b.limit; over > 0 {
		b.notices = append([]types.Notice(nil), b.notices[over:]...)
	}
}

// ConfirmSwitch returns the configured policy
func (b *NoticeBoard) ConfirmSwitch(ctx context.Context, observed, target uint64) bool {
	return b.autoSwitch
}

// Notices returns the queued notices
func (b *NoticeBoard) Notices() []types.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Notice(nil), b.notices...)
}

// Drain returns and removes the queued notices
func (b *NoticeBoard) Drain() []types.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	drained := b.notices
	b.notices = nil
	return drained
}
