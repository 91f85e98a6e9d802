package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeJSON(t *testing.T) {
	assert.Equal(t, []byte(`{}`), normalizeJSON(nil))
	assert.Equal(t, []byte(`{}`), normalizeJSON(json.RawMessage{}))
	assert.Equal(t, []byte(`{"a":1}`), normalizeJSON(json.RawMessage(`{"a":1}`)))
}
