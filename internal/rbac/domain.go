package rbac

import "time"

// Role represents a named permission grouping. System roles are seeded at
// install time and cannot be renamed or deleted.
type Role struct {
	ID          int64
	Name        string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category groups permissions for display purposes.
type Category string

// Permission display categories.
const (
	CategoryDashboard Category = "dashboard"
	CategorySales     Category = "sales"
	CategoryInventory Category = "inventory"
	CategoryReports   Category = "reports"
	CategoryAssistant Category = "assistant"
	CategorySecurity  Category = "security"
	CategorySettings  Category = "settings"
)

// Icon identifies the display icon for a permission.
type Icon string

// Permission display icons.
const (
	IconChart    Icon = "chart"
	IconCart     Icon = "cart"
	IconBoxes    Icon = "boxes"
	IconFile     Icon = "file"
	IconMessage  Icon = "message"
	IconShield   Icon = "shield"
	IconGear     Icon = "gear"
	IconUsers    Icon = "users"
	IconClock    Icon = "clock"
	IconDownload Icon = "download"
)

// Permission represents an atomic capability with display metadata.
type Permission struct {
	ID       int64
	Name     string
	Label    string
	Category Category
	Icon     Icon
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// RolePatch carries partial updates for a role. Nil fields are left unchanged.
type RolePatch struct {
	Name        *string
	Description *string
}

// AdminRoleName designates the role whose holders administer the
// installation. The anti-lockout guard protects this role.
const AdminRoleName = "Admin"

// Audit action names emitted by RBAC mutations.
const (
	ActionRoleCreated       = "rbac.role.created"
	ActionRoleUpdated       = "rbac.role.updated"
	ActionRoleDeleted       = "rbac.role.deleted"
	ActionRoleCloned        = "rbac.role.cloned"
	ActionPermissionGranted = "rbac.role.permission_granted"
	ActionPermissionRevoked = "rbac.role.permission_revoked"
	ActionRoleAssigned      = "rbac.user.role_assigned"
	ActionRoleUnassigned    = "rbac.user.role_unassigned"
)
