package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleImplementer.Valid())
	assert.True(t, RoleRebaser.Valid())
	assert.False(t, Role("bogus").Valid())
}

func TestDescribeRoleKnown(t *testing.T) {
	d := DescribeRole(RoleBreakdown)
	assert.Equal(t, WorktreePolicyBreakdown, d.WorktreePolicy)
	assert.Equal(t, QueueBreakdown, d.ClaimQueueFilter)
}

func TestDescribeRoleUnknownFallsBackToDefault(t *testing.T) {
	d := DescribeRole(Role("nonexistent"))
	assert.Equal(t, DefaultRoleDescriptor, d)
}
