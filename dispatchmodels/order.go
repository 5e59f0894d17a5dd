package dispatchmodels

import (
	"encoding"
	"strconv"
	"strings"

	"github.com/memsql/errors"
)

// DeliveryOrder is chosen when a loop is created and cannot change afterwards.
type DeliveryOrder int

const (
	// Unordered delivers every message in a batch concurrently
	Unordered DeliveryOrder = iota
	// Ordered delivers messages that share a group key (by default the partition)
	// one at a time in fetch order. Groups are delivered concurrently.
	Ordered
)

var (
	_ encoding.TextUnmarshaler = new(DeliveryOrder)
	_ encoding.TextMarshaler   = Unordered
)

func (o DeliveryOrder) String() string {
	switch o {
	case Unordered:
		return "unordered"
	case Ordered:
		return "ordered"
	default:
		return "DeliveryOrder(" + strconv.Itoa(int(o)) + ")"
	}
}

func (o DeliveryOrder) MarshalText() ([]byte, error) {
	switch o {
	case Unordered, Ordered:
		return []byte(o.String()), nil
	}
	return nil, errors.Errorf("invalid delivery order (%d)", int(o))
}

func (o *DeliveryOrder) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "unordered", "":
		*o = Unordered
	case "ordered":
		*o = Ordered
	default:
		return errors.Errorf("invalid delivery order (%s), must be 'ordered' or 'unordered'", string(text))
	}
	return nil
}
