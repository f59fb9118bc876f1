package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDurationStandardSuffixes(t *testing.T) {
	d, err := ParseDuration("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)
}

func TestParseDurationCustomSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * day},
		{"2M", 2 * month},
		{"1y", year},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseDurationRejectsEmptyAndGarbage(t *testing.T) {
	_, err := ParseDuration("")
	assert.Error(t, err)

	_, err = ParseDuration("not-a-duration")
	assert.Error(t, err)
}

func TestDurationUnmarshalYAML(t *testing.T) {
	var holder struct {
		Retention Duration `yaml:"retention"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("retention: 30d"), &holder))
	assert.Equal(t, 30*day, holder.Retention.Duration)
}

func TestMinRetentionIsOneSecond(t *testing.T) {
	assert.Equal(t, time.Second, MinRetention)

	d, err := ParseDuration("1ms")
	require.NoError(t, err, "1ms parses fine; it's only rejected by retention-specific validation")
	assert.Less(t, d, MinRetention)
}
