package domain

// Actions checked by the Authorizer before a privileged workflow runs.
const (
	ActionCreateMember   = "members:create"
	ActionDeleteMember   = "members:delete"
	ActionUpdateIdentity = "members:update_identity"
)

// Workflow steps, used in error context, metrics and traces.
const (
	StepLock             = "lock"
	StepIdentityCreate   = "identity_create"
	StepMemberInsert     = "member_insert"
	StepPermissionInsert = "permission_insert"
	StepIdentityDelete   = "identity_delete"
	StepMemberDelete     = "member_delete"
	StepPermissionDelete = "permission_delete"
	StepMemberUpdate     = "member_update"
	StepPermissionUpdate = "permission_update"
	StepIdentityUpdate   = "identity_update"
	StepList             = "list"
)

// PermissionCleanup says how a member's permission rows go away on delete.
type PermissionCleanup string

const (
	// CleanupCascade leaves it to the members→permission foreign key.
	CleanupCascade PermissionCleanup = "cascade"
	// CleanupExplicit deletes the rows as a workflow step.
	CleanupExplicit PermissionCleanup = "explicit"
)
