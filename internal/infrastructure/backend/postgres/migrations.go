package postgres

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Migrate creates the identities, members and permission tables. With row
// level security on Postgres it also installs the role and table policies
// role-scoped clients rely on.
func Migrate(ctx context.Context, db *gorm.DB, cfg Config) error {
	db = db.WithContext(ctx)

	if err := db.AutoMigrate(&IdentityRecord{}, &MemberRecord{}, &PermissionRecord{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	if !cfg.RowLevelSecurity || db.Dialector.Name() != DriverPostgres {
		return nil
	}

	for _, stmt := range policyStatements(roleName(cfg)) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to apply policy statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func roleName(cfg Config) string {
	if cfg.AuthenticatedRole == "" {
		return "authenticated"
	}
	return cfg.AuthenticatedRole
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Policies read the caller from request.jwt.claims, set per transaction by
// the role-scoped client. Admins see and change everything; other members
// see the listing and may edit their own member row.
func policyStatements(role string) []string {
	r := quoteIdent(role)
	literal := "'" + strings.ReplaceAll(role, "'", "''") + "'"
	isAdmin := `coalesce(current_setting('request.jwt.claims', true)::json->'user_metadata'->>'role', '') = 'admin'`
	self := `current_setting('request.jwt.claims', true)::json->>'sub'`

	return []string{
		fmt.Sprintf(`DO $$ BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = %s) THEN
		CREATE ROLE %s NOLOGIN;
	END IF;
END $$`, literal, r),
		fmt.Sprintf(`GRANT SELECT, INSERT, UPDATE, DELETE ON members, permission TO %s`, r),
		fmt.Sprintf(`GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO %s`, r),
		`ALTER TABLE members ENABLE ROW LEVEL SECURITY`,
		`ALTER TABLE permission ENABLE ROW LEVEL SECURITY`,

		`DROP POLICY IF EXISTS members_select ON members`,
		fmt.Sprintf(`CREATE POLICY members_select ON members FOR SELECT TO %s USING (true)`, r),
		`DROP POLICY IF EXISTS members_update ON members`,
		fmt.Sprintf(`CREATE POLICY members_update ON members FOR UPDATE TO %s USING (%s OR id = %s)`, r, isAdmin, self),
		`DROP POLICY IF EXISTS members_admin ON members`,
		fmt.Sprintf(`CREATE POLICY members_admin ON members FOR ALL TO %s USING (%s) WITH CHECK (%s)`, r, isAdmin, isAdmin),

		`DROP POLICY IF EXISTS permission_select ON permission`,
		fmt.Sprintf(`CREATE POLICY permission_select ON permission FOR SELECT TO %s USING (true)`, r),
		`DROP POLICY IF EXISTS permission_admin ON permission`,
		fmt.Sprintf(`CREATE POLICY permission_admin ON permission FOR ALL TO %s USING (%s) WITH CHECK (%s)`, r, isAdmin, isAdmin),
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
