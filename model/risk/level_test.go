package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel_RequiresApproval(t *testing.T) {
	assert.False(t, Low.RequiresApproval())
	assert.True(t, Medium.RequiresApproval())
	assert.True(t, High.RequiresApproval())
	// Unknown levels block rather than clear.
	assert.True(t, Level("weird").RequiresApproval())
}

func TestLevel_Severity(t *testing.T) {
	assert.Less(t, Low.Severity(), Medium.Severity())
	assert.Less(t, Medium.Severity(), High.Severity())
	assert.Greater(t, Level("").Severity(), High.Severity())
}
