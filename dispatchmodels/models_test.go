package dispatchmodels_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

func msg(topic string, partition int, offset int64, key string) *dispatchmodels.Message {
	return &dispatchmodels.Message{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       []byte(key),
	}
}

func coordinates(b dispatchmodels.Batch) []string {
	out := make([]string, len(b))
	for i, m := range b {
		out[i] = m.Coordinates()
	}
	return out
}

func TestGroupByPartitionKeepsFetchOrder(t *testing.T) {
	t.Parallel()
	batch := dispatchmodels.Batch{
		msg("t1", 0, 5, "a"),
		msg("t1", 1, 9, "b"),
		msg("t1", 0, 6, "c"),
		msg("t2", 0, 1, "a"),
		msg("t1", 0, 7, "a"),
	}
	groups := batch.Group(dispatchmodels.ByPartition)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"t1/0@5", "t1/0@6", "t1/0@7"}, coordinates(groups[0]))
	assert.Equal(t, []string{"t1/1@9"}, coordinates(groups[1]))
	assert.Equal(t, []string{"t2/0@1"}, coordinates(groups[2]), "same partition number in another topic is another group")
}

func TestGroupByKey(t *testing.T) {
	t.Parallel()
	batch := dispatchmodels.Batch{
		msg("t1", 0, 5, "a"),
		msg("t1", 0, 6, "b"),
		msg("t1", 0, 7, "a"),
	}
	groups := batch.Group(dispatchmodels.ByKey)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"t1/0@5", "t1/0@7"}, coordinates(groups[0]))
	assert.Equal(t, []string{"t1/0@6"}, coordinates(groups[1]))
}

func TestGroupEmptyBatch(t *testing.T) {
	t.Parallel()
	assert.Empty(t, dispatchmodels.Batch(nil).Group(dispatchmodels.ByPartition))
}

func TestDeliveryOrderText(t *testing.T) {
	t.Parallel()
	for text, want := range map[string]dispatchmodels.DeliveryOrder{
		"ordered":   dispatchmodels.Ordered,
		"Ordered":   dispatchmodels.Ordered,
		"unordered": dispatchmodels.Unordered,
		"":          dispatchmodels.Unordered,
	} {
		var o dispatchmodels.DeliveryOrder
		require.NoErrorf(t, o.UnmarshalText([]byte(text)), "unmarshal '%s'", text)
		assert.Equal(t, want, o, text)
	}
	var o dispatchmodels.DeliveryOrder
	assert.Error(t, o.UnmarshalText([]byte("sorted")))

	b, err := dispatchmodels.Ordered.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ordered", string(b))
	_, err = dispatchmodels.DeliveryOrder(7).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "DeliveryOrder(7)", dispatchmodels.DeliveryOrder(7).String())
}

func TestGroupByText(t *testing.T) {
	t.Parallel()
	var g dispatchmodels.GroupBy
	require.NoError(t, g.UnmarshalText([]byte("key")))
	assert.Equal(t, dispatchmodels.GroupByKey, g)
	assert.Equal(t, "t/0/k", g.Key()(msg("t", 0, 1, "k")))
	require.NoError(t, g.UnmarshalText(nil))
	assert.Equal(t, dispatchmodels.GroupByPartition, g)
	assert.Equal(t, "t/3", g.Key()(msg("t", 3, 1, "k")))
	assert.Error(t, g.UnmarshalText([]byte("offset")))
}

func TestBatchTopicsAndHeaders(t *testing.T) {
	t.Parallel()
	batch := dispatchmodels.Batch{msg("b", 0, 1, ""), msg("a", 0, 1, ""), msg("b", 1, 2, "")}
	assert.Equal(t, []string{"b", "a"}, batch.Topics())

	m := msg("t", 0, 0, "")
	m.Headers = []dispatchmodels.Header{{Key: "ce_type", Value: []byte("x")}, {Key: "ce_type", Value: []byte("y")}}
	v, ok := m.Header("ce_type")
	assert.True(t, ok)
	assert.Equal(t, "x", string(v))
	_, ok = m.Header("missing")
	assert.False(t, ok)
}
