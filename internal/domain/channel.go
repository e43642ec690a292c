package domain

import "context"

// Channel is a chat transport (CLI, Telegram, Discord, Slack). Start
// blocks until ctx is cancelled; outbound delivery is registered on the
// bus via OnOutbound.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
