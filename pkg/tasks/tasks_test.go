package tasks

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermanent(t *testing.T) {
	base := errors.New("source missing")
	err := fmt.Errorf("process: %w", Permanent(base))

	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, "process: source missing", err.Error())

	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}
