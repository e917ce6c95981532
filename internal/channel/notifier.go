package channel

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/linkkeeper/internal/bus"
)

// Notifier delivers reminder text to an owner over one channel. The owner id
// is the chat id on that channel.
type Notifier struct {
	ch Channel
}

func NewNotifier(ch Channel) *Notifier {
	return &Notifier{ch: ch}
}

// Send returns once the channel accepted the message or ctx is done,
// whichever happens first.
func (n *Notifier) Send(ctx context.Context, ownerID, text string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.ch.Send(bus.OutboundMessage{
			Channel: n.ch.Name(),
			ChatID:  ownerID,
			Content: text,
		})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("notify %s via %s: %w", ownerID, n.ch.Name(), err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify %s via %s: %w", ownerID, n.ch.Name(), ctx.Err())
	}
}
