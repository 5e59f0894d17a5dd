package dispatchmodels

import "github.com/memsql/errors"

const (
	ErrAlreadyStarted    errors.String = "dispatch loop already started"
	ErrDrainTimeout      errors.String = "in-flight deliveries did not finish before the drain deadline"
	ErrNoTopics          errors.String = "no topics to subscribe to"
	ErrNotSubscribed     errors.String = "log client is not subscribed"
	ErrAlreadySubscribed errors.String = "log client is already subscribed"

	// ErrDeliveryRejected is returned by delivery targets when the receiver
	// answered but did not accept the message
	ErrDeliveryRejected errors.String = "delivery rejected"
)
