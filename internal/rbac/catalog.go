package rbac

import (
	"context"
	"fmt"
	"strings"
)

// Well-known permission names used by route guards.
const (
	PermDashboardView  = "dashboard:view"
	PermSaleCreate     = "sale:create"
	PermSaleView       = "sale:view"
	PermInventoryView  = "inventory:view"
	PermInventoryEdit  = "inventory:adjust"
	PermReportView     = "report:view"
	PermReportExport   = "report:export"
	PermAssistantUse   = "assistant:use"
	PermUserManage     = "user:manage"
	PermRoleManage     = "role:manage"
	PermAuditView      = "audit:view"
	PermSecurityManage = "security:manage"
	PermSettingsManage = "settings:manage"
)

// catalogEntries is the closed set of permissions known to the platform.
// The catalog is append-only: entries are upserted at startup and never
// removed by normal operation.
var catalogEntries = []Permission{
	{Name: PermDashboardView, Label: "View dashboard", Category: CategoryDashboard, Icon: IconChart},
	{Name: PermSaleCreate, Label: "Create sales", Category: CategorySales, Icon: IconCart},
	{Name: PermSaleView, Label: "View sales", Category: CategorySales, Icon: IconCart},
	{Name: PermInventoryView, Label: "View inventory", Category: CategoryInventory, Icon: IconBoxes},
	{Name: PermInventoryEdit, Label: "Adjust inventory", Category: CategoryInventory, Icon: IconBoxes},
	{Name: PermReportView, Label: "View reports", Category: CategoryReports, Icon: IconFile},
	{Name: PermReportExport, Label: "Export reports", Category: CategoryReports, Icon: IconDownload},
	{Name: PermAssistantUse, Label: "Use analytics assistant", Category: CategoryAssistant, Icon: IconMessage},
	{Name: PermUserManage, Label: "Manage users", Category: CategorySettings, Icon: IconUsers},
	{Name: PermRoleManage, Label: "Manage roles", Category: CategorySettings, Icon: IconGear},
	{Name: PermAuditView, Label: "View audit trail", Category: CategorySecurity, Icon: IconClock},
	{Name: PermSecurityManage, Label: "Manage security", Category: CategorySecurity, Icon: IconShield},
	{Name: PermSettingsManage, Label: "Manage settings", Category: CategorySettings, Icon: IconGear},
}

// Catalog is the typed registry of permission records, keyed by machine name.
type Catalog struct {
	entries []Permission
	byName  map[string]Permission
}

// NewCatalog builds the catalog from the built-in entry set.
func NewCatalog() *Catalog {
	c := &Catalog{
		entries: make([]Permission, len(catalogEntries)),
		byName:  make(map[string]Permission, len(catalogEntries)),
	}
	copy(c.entries, catalogEntries)
	for _, p := range c.entries {
		c.byName[p.Name] = p
	}
	return c
}

// All returns every catalog entry.
func (c *Catalog) All() []Permission {
	out := make([]Permission, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns the catalog entry for a machine name.
func (c *Catalog) Lookup(name string) (Permission, bool) {
	p, ok := c.byName[strings.TrimSpace(name)]
	return p, ok
}

// Known reports whether the name identifies a catalog permission.
func (c *Catalog) Known(name string) bool {
	_, ok := c.byName[strings.TrimSpace(name)]
	return ok
}

// Seed upserts every catalog entry into the permission store.
func (c *Catalog) Seed(ctx context.Context, q Queries) error {
	for _, p := range c.entries {
		if _, err := q.UpsertPermission(ctx, p); err != nil {
			return fmt.Errorf("rbac: seed permission %s: %w", p.Name, err)
		}
	}
	return nil
}
