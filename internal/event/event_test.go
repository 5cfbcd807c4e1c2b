package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, l := range Levels() {
		got, err := ParseLevel(string(l))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}

	_, err := ParseLevel("notice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownLevel))
}

func TestNewAssignsIDAndExtra(t *testing.T) {
	r, err := New(LevelInfo, "hello", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.NotNil(t, r.Extra)
	assert.False(t, r.Created.IsZero())

	other, err := New(LevelInfo, "hello", nil)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, other.ID)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Level("fatal"), "x", nil)
	assert.ErrorIs(t, err, ErrUnknownLevel)
}

func TestValidateFillsExtra(t *testing.T) {
	r := &Record{Level: LevelWarn}
	require.NoError(t, Validate(r))
	assert.NotNil(t, r.Extra)

	assert.ErrorIs(t, Validate(&Record{Level: "loud"}), ErrUnknownLevel)
}

func TestWithTest(t *testing.T) {
	extra := WithTest(nil, "sikulix_example")
	assert.Equal(t, "sikulix_example", extra["meta"].(map[string]any)["test"])

	extra = WithTest(map[string]any{"meta": map[string]any{"test": "custom"}}, "other")
	assert.Equal(t, "custom", extra["meta"].(map[string]any)["test"])
}

func TestNewRejectsReservedExtraKeys(t *testing.T) {
	for _, key := range []string{"host", "level", "message", "type", "pid", "program"} {
		_, err := New(LevelInfo, "m", map[string]any{key: "x"})
		require.Error(t, err, key)
		assert.True(t, errors.Is(err, ErrReservedKey), key)
	}

	// Nested keys of the same name are plain data.
	_, err := New(LevelInfo, "m", map[string]any{"data": map[string]any{"message": "x"}})
	assert.NoError(t, err)
}

func TestValidateRejectsReservedExtraKeys(t *testing.T) {
	r := &Record{Level: LevelInfo, Extra: map[string]any{"program": "spoofed"}}
	err := Validate(r)
	assert.True(t, errors.Is(err, ErrReservedKey))
}
