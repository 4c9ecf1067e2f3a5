package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPluginID(t *testing.T) {
	t.Run("accepts valid ids", func(t *testing.T) {
		valid := []string{"battery-analyzer", "oscilloscope", "usb-pd-sniffer", "a", "plugin2"}
		for _, name := range valid {
			id, err := NewPluginID(name)
			require.NoError(t, err, "id %q should be valid", name)
			assert.Equal(t, name, id.String())
			assert.False(t, id.IsZero())
		}
	})

	t.Run("rejects invalid ids", func(t *testing.T) {
		tests := []struct {
			name string
			id   string
		}{
			{"empty", ""},
			{"uppercase", "Battery-Analyzer"},
			{"underscore", "battery_analyzer"},
			{"spaces", "battery analyzer"},
			{"leading hyphen", "-battery"},
			{"trailing hyphen", "battery-"},
			{"unicode", "batterie-prüfer"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := NewPluginID(tt.id)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPluginID)
			})
		}
	})

	t.Run("equality is by name", func(t *testing.T) {
		a := MustNewPluginID("multimeter")
		b := MustNewPluginID("multimeter")
		c := MustNewPluginID("oscilloscope")

		assert.True(t, a.Equals(b))
		assert.False(t, a.Equals(c))
	})

	t.Run("zero value", func(t *testing.T) {
		var id PluginID
		assert.True(t, id.IsZero())
		assert.Equal(t, "", id.String())
	})
}

func TestMustNewPluginID(t *testing.T) {
	t.Run("panics on invalid id", func(t *testing.T) {
		assert.Panics(t, func() {
			MustNewPluginID("Not Valid")
		})
	})
}

func TestVersion(t *testing.T) {
	t.Run("is an opaque token", func(t *testing.T) {
		// Semantically equivalent but textually different versions are
		// different releases.
		a := NewVersion("1.0.0")
		b := NewVersion("1.0")
		c := NewVersion("1.0.0")

		assert.False(t, a.Equals(b))
		assert.True(t, a.Equals(c))
	})

	t.Run("zero value", func(t *testing.T) {
		var v Version
		assert.True(t, v.IsZero())
		assert.False(t, NewVersion("2.1.0").IsZero())
	})
}
