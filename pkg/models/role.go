package models

import "time"

// Role tags which agent program should handle a task. Role dispatch is
// data, not code: RoleDescriptor below is the single place that maps a
// role to its execution policy.
type Role string

const (
	RoleImplementer     Role = "implement"
	RoleOrchestratorImpl Role = "orchestrator_impl"
	RoleBreakdown       Role = "breakdown"
	RoleCurator         Role = "curator"
	RoleGatekeeper      Role = "gatekeeper"
	RoleRebaser         Role = "rebaser"
	RoleRecycler        Role = "recycler"
	RoleProductManager  Role = "product_manager"
	RoleProposer        Role = "proposer"
)

// Valid returns true if r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleImplementer, RoleOrchestratorImpl, RoleBreakdown, RoleCurator,
		RoleGatekeeper, RoleRebaser, RoleRecycler, RoleProductManager, RoleProposer:
		return true
	default:
		return false
	}
}

// WorktreePolicy names how a role's worktree branch is derived.
type WorktreePolicy string

const (
	// WorktreePolicyOrch uses orch/<task_id>.
	WorktreePolicyOrch WorktreePolicy = "orch"
	// WorktreePolicyBreakdown uses breakdown/<breakdown_id>.
	WorktreePolicyBreakdown WorktreePolicy = "breakdown"
	// WorktreePolicyStandard uses agent/<task_id>.
	WorktreePolicyStandard WorktreePolicy = "standard"
)

// RoleDescriptor is the pure-data policy attached to a role: what tools
// it may invoke, how long it may run, how its worktree branch is chosen,
// and which queue/filter combination it claims from. The scheduler
// consumes this uniformly instead of dispatching on role via a type
// switch or registry lookup.
type RoleDescriptor struct {
	Role             Role
	AllowedTools     []string
	MaxTurns         int
	Timeout          time.Duration
	WorktreePolicy   WorktreePolicy
	ClaimQueueFilter Queue
}

// roleDescriptors is the single source of truth mapping a role to its
// execution policy. Unknown roles fall back to DefaultRoleDescriptor.
var roleDescriptors = map[Role]RoleDescriptor{
	RoleImplementer: {
		Role:             RoleImplementer,
		AllowedTools:     []string{"read", "write", "bash", "git"},
		MaxTurns:         60,
		Timeout:          15 * time.Minute,
		WorktreePolicy:   WorktreePolicyStandard,
		ClaimQueueFilter: QueueIncoming,
	},
	RoleOrchestratorImpl: {
		Role:             RoleOrchestratorImpl,
		AllowedTools:     []string{"read", "write", "bash", "git"},
		MaxTurns:         60,
		Timeout:          20 * time.Minute,
		WorktreePolicy:   WorktreePolicyOrch,
		ClaimQueueFilter: QueueIncoming,
	},
	RoleBreakdown: {
		Role:             RoleBreakdown,
		AllowedTools:     []string{"read", "write"},
		MaxTurns:         20,
		Timeout:          10 * time.Minute,
		WorktreePolicy:   WorktreePolicyBreakdown,
		ClaimQueueFilter: QueueBreakdown,
	},
	RoleCurator: {
		Role:             RoleCurator,
		AllowedTools:     []string{"read"},
		MaxTurns:         20,
		Timeout:          10 * time.Minute,
		WorktreePolicy:   WorktreePolicyStandard,
		ClaimQueueFilter: QueueIncoming,
	},
	RoleGatekeeper: {
		Role:             RoleGatekeeper,
		AllowedTools:     []string{"read"},
		MaxTurns:         10,
		Timeout:          5 * time.Minute,
		WorktreePolicy:   WorktreePolicyStandard,
		ClaimQueueFilter: QueueProvisional,
	},
	RoleRebaser: {
		Role:             RoleRebaser,
		AllowedTools:     []string{"read", "bash", "git"},
		MaxTurns:         10,
		Timeout:          10 * time.Minute,
		WorktreePolicy:   WorktreePolicyStandard,
		ClaimQueueFilter: QueueIncoming,
	},
	RoleRecycler: {
		Role:             RoleRecycler,
		AllowedTools:     []string{"read", "write"},
		MaxTurns:         10,
		Timeout:          5 * time.Minute,
		WorktreePolicy:   WorktreePolicyBreakdown,
		ClaimQueueFilter: QueueProvisional,
	},
	RoleProductManager: {
		Role:             RoleProductManager,
		AllowedTools:     []string{"read", "write"},
		MaxTurns:         30,
		Timeout:          15 * time.Minute,
		WorktreePolicy:   WorktreePolicyStandard,
		ClaimQueueFilter: QueueIncoming,
	},
	RoleProposer: {
		Role:             RoleProposer,
		AllowedTools:     []string{"read", "write", "git"},
		MaxTurns:         30,
		Timeout:          15 * time.Minute,
		WorktreePolicy:   WorktreePolicyStandard,
		ClaimQueueFilter: QueueIncoming,
	},
}

// DefaultRoleDescriptor is used when a task's role is empty or unknown.
var DefaultRoleDescriptor = RoleDescriptor{
	Role:             RoleImplementer,
	AllowedTools:     []string{"read", "write", "bash", "git"},
	MaxTurns:         60,
	Timeout:          15 * time.Minute,
	WorktreePolicy:   WorktreePolicyStandard,
	ClaimQueueFilter: QueueIncoming,
}

// DescribeRole returns the policy descriptor for the given role, falling
// back to DefaultRoleDescriptor for unrecognized roles.
func DescribeRole(r Role) RoleDescriptor {
	if d, ok := roleDescriptors[r]; ok {
		return d
	}
	return DefaultRoleDescriptor
}
