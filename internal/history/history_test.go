package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetailsJSON(t *testing.T) {
	assert.Equal(t, "{}", Event{}.DetailsJSON())
	assert.JSONEq(t, `{"path":"cam-1","restarts":2}`,
		Event{Details: map[string]any{"path": "cam-1", "restarts": 2}}.DetailsJSON())
	// unsupported values degrade to an empty object
	assert.Equal(t, "{}", Event{Details: map[string]any{"ch": make(chan int)}}.DetailsJSON())
}
