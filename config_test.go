package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/singlestore-labs/dispatch"
	"github.com/singlestore-labs/dispatch/dispatchmodels"
	"github.com/singlestore-labs/dispatch/dispatchtest"
)

func TestConfigFromYAML(t *testing.T) {
	var cfg dispatch.Config
	require.NoError(t, yaml.Unmarshal([]byte(`
name: orders
topics: [orders.created, orders.cancelled]
deliveryOrder: Ordered
groupBy: key
pollTimeout: 500ms
backoffDelay: 1s
drainTimeout: 2m
`), &cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, dispatchmodels.Ordered, cfg.DeliveryOrder)
	assert.Equal(t, dispatchmodels.GroupByKey, cfg.GroupBy)
	assert.Equal(t, 500*time.Millisecond, cfg.PollTimeout)
	assert.Equal(t, 2*time.Minute, cfg.DrainTimeout)

	c, err := dispatch.New(dispatchtest.NewScriptedLog(nil), dispatchtest.NewRecordingTarget(nil), cfg.Topics, cfg.Options()...)
	require.NoError(t, err)
	assert.Equal(t, "orders", c.Name())
	assert.Equal(t, dispatchmodels.Ordered, c.DeliveryOrder())
	assert.Equal(t, []string{"orders.created", "orders.cancelled"}, c.Topics())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  dispatch.Config
		ok   bool
	}{
		{name: "defaults", cfg: dispatch.Config{Topics: []string{"t1"}}, ok: true},
		{name: "no topics", cfg: dispatch.Config{}},
		{name: "negative backoff", cfg: dispatch.Config{Topics: []string{"t1"}, BackoffDelay: -time.Second}},
		{name: "bad order", cfg: dispatch.Config{Topics: []string{"t1"}, DeliveryOrder: dispatchmodels.DeliveryOrder(3)}},
		{name: "bad group by", cfg: dispatch.Config{Topics: []string{"t1"}, GroupBy: "offset"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfigBadYAML(t *testing.T) {
	var cfg dispatch.Config
	assert.Error(t, yaml.Unmarshal([]byte(`deliveryOrder: sideways`), &cfg))
}
