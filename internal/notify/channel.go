package notify

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

// ErrDeliveryFailed marks a channel-level delivery failure as opposed to an
// infrastructure error. Wrapped errors carry the specific reason.
var ErrDeliveryFailed = errors.New("delivery failed")

// Channel delivers one notification task. One implementation per channel
// type, injected at construction; the pipeline never branches on the type
// beyond looking up the implementation.
type Channel interface {
	Send(ctx context.Context, task model.NotificationTask) error
}
