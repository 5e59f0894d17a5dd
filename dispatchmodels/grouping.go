package dispatchmodels

import (
	"encoding"
	"strconv"
	"strings"

	"github.com/memsql/errors"
)

// GroupKey picks the ordering scope of a message for Ordered delivery.
// Messages with equal keys are delivered one at a time, in fetch order.
type GroupKey func(*Message) string

// ByPartition orders within a topic partition. This is the default.
func ByPartition(msg *Message) string {
	return msg.Topic + "/" + strconv.Itoa(msg.Partition)
}

// ByKey orders within a topic partition and message key. Since a key always
// maps to one partition, this relaxes ByPartition: different keys in the same
// partition may be delivered concurrently.
func ByKey(msg *Message) string {
	return ByPartition(msg) + "/" + string(msg.Key)
}

// GroupBy names a GroupKey so that it can be configured
type GroupBy string

const (
	GroupByPartition GroupBy = "partition"
	GroupByKey       GroupBy = "key"
)

var _ encoding.TextUnmarshaler = new(GroupBy)

func (g *GroupBy) UnmarshalText(text []byte) error {
	switch GroupBy(strings.ToLower(strings.TrimSpace(string(text)))) {
	case GroupByPartition, "":
		*g = GroupByPartition
	case GroupByKey:
		*g = GroupByKey
	default:
		return errors.Errorf("invalid group by (%s), must be 'partition' or 'key'", string(text))
	}
	return nil
}

func (g GroupBy) Key() GroupKey {
	if g == GroupByKey {
		return ByKey
	}
	return ByPartition
}

// Group splits a batch by key. Groups are returned in the order their first
// message was fetched and each group keeps fetch order.
func (b Batch) Group(key GroupKey) []Batch {
	index := make(map[string]int)
	var groups []Batch
	for _, msg := range b {
		k := key(msg)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], msg)
	}
	return groups
}
