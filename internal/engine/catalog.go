package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/index"
)

// systemCatalogs is the set of virtual tables the executor routes through
// the catalog handler.
var systemCatalogs = map[string]bool{
	"pg_catalog.pg_class":         true,
	"pg_catalog.pg_attribute":     true,
	"pg_catalog.pg_index":         true,
	"pg_catalog.pg_type":          true,
	"pg_catalog.pg_namespace":     true,
	"pg_namespace":                true,
	"pg_catalog.pg_database":      true,
	"pg_database":                 true,
	"pg_catalog.pg_roles":         true,
	"pg_roles":                    true,
	"pg_catalog.pg_user":          true,
	"pg_user":                     true,
	"pg_catalog.pg_auth_members":  true,
	"pg_auth_members":             true,
	"pg_catalog.table_privileges": true,
	"table_privileges":            true,
	"information_schema.tables":   true,
	"information_schema.columns":  true,
}

func isSystemCatalog(name string) bool { return systemCatalogs[name] }

// execCatalogSelect synthesizes the virtual table and runs the outer
// pipeline (filter, projection, order, limit) over it.
func execCatalogSelect(ctx *Context, stmt *SelectStmt) (*Result, error) {
	base, err := queryCatalog(ctx, stmt.From)
	if err != nil {
		return nil, err
	}
	return selectOverResult(ctx, base, stmt)
}

func queryCatalog(ctx *Context, name string) (*Result, error) {
	switch name {
	case "pg_catalog.pg_class":
		return pgClass(ctx)
	case "pg_catalog.pg_attribute":
		return pgAttribute(ctx)
	case "pg_catalog.pg_index":
		return pgIndex(ctx)
	case "pg_catalog.pg_type":
		return pgType(ctx)
	case "pg_catalog.pg_namespace", "pg_namespace":
		return pgNamespace()
	case "pg_catalog.pg_database", "pg_database":
		return pgDatabase(ctx)
	case "pg_catalog.pg_roles", "pg_roles":
		return pgRoles(ctx)
	case "pg_catalog.pg_user", "pg_user":
		return pgUser(ctx)
	case "pg_catalog.pg_auth_members", "pg_auth_members":
		return pgAuthMembers(ctx)
	case "pg_catalog.table_privileges", "table_privileges":
		return tablePrivileges(ctx)
	case "information_schema.tables":
		return informationSchemaTables(ctx)
	case "information_schema.columns":
		return informationSchemaColumns(ctx)
	default:
		return nil, core.TableNotFound(name)
	}
}

// tableOID derives a stable oid for a table from its storage id.
func tableOID(ctx *Context, name string) int64 {
	return 16384 + int64(ctx.Store.TableID(name))
}

func sortedTableNames(db *core.Database) []string {
	names := make([]string, 0, len(db.Tables))
	for name := range db.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func pgClass(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"oid", "relname", "relnamespace", "relkind", "relowner", "relpages", "reltuples"}}
	for _, name := range sortedTableNames(ctx.DB) {
		meta := ctx.DB.TableMetadata[name]
		owner := ""
		if meta != nil {
			owner = meta.Owner
		}
		pages, tuples := int64(0), int64(0)
		if heap, err := ctx.Store.Heap(name); err == nil {
			pages = int64(heap.PageCount())
			tuples = int64(heap.RowCount())
		}
		res.Rows = append(res.Rows, []core.Value{
			core.NewInteger(tableOID(ctx, name)),
			core.NewText(name),
			core.NewInteger(2200),
			core.NewText("r"),
			core.NewText(owner),
			core.NewInteger(pages),
			core.NewInteger(tuples),
		})
	}
	viewNames := make([]string, 0, len(ctx.DB.Views))
	for name := range ctx.DB.Views {
		viewNames = append(viewNames, name)
	}
	sort.Strings(viewNames)
	for _, name := range viewNames {
		res.Rows = append(res.Rows, []core.Value{
			core.NewInteger(0),
			core.NewText(name),
			core.NewInteger(2200),
			core.NewText("v"),
			core.NewText(""),
			core.NewInteger(0),
			core.NewInteger(0),
		})
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func pgAttribute(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"attrelid", "attname", "atttypid", "attnum", "attnotnull"}}
	for _, name := range sortedTableNames(ctx.DB) {
		table := ctx.DB.Tables[name]
		for i := range table.Columns {
			col := &table.Columns[i]
			res.Rows = append(res.Rows, []core.Value{
				core.NewInteger(tableOID(ctx, name)),
				core.NewText(col.Name),
				core.NewInteger(typeOID(col.Type)),
				core.NewInteger(int64(i + 1)),
				core.NewBoolean(!col.Nullable),
			})
		}
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func pgIndex(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"indname", "indrelid", "indisunique", "indkey", "indmethod"}}
	type entry struct {
		name  string
		table string
		cols  string
		uniq  bool
		kind  string
	}
	var entries []entry
	ctx.DB.Indexes(func(ix *index.Index) {
		entries = append(entries, entry{
			name:  ix.Name,
			table: ix.TableName,
			cols:  strings.Join(ix.ColumnNames, ","),
			uniq:  ix.Unique,
			kind:  ix.Kind().String(),
		})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for _, e := range entries {
		res.Rows = append(res.Rows, []core.Value{
			core.NewText(e.name),
			core.NewInteger(tableOID(ctx, e.table)),
			core.NewBoolean(e.uniq),
			core.NewText(e.cols),
			core.NewText(e.kind),
		})
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func pgType(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"oid", "typname", "typlen", "typcategory"}}
	builtin := []struct {
		oid  int64
		name string
		ln   int64
		cat  string
	}{
		{16, "bool", 1, "B"},
		{17, "bytea", -1, "U"},
		{20, "int8", 8, "N"},
		{21, "int2", 2, "N"},
		{23, "int4", 4, "N"},
		{25, "text", -1, "S"},
		{114, "json", -1, "U"},
		{700, "float4", 4, "N"},
		{701, "float8", 8, "N"},
		{1042, "bpchar", -1, "S"},
		{1043, "varchar", -1, "S"},
		{1082, "date", 4, "D"},
		{1114, "timestamp", 8, "D"},
		{1184, "timestamptz", 8, "D"},
		{1700, "numeric", -1, "N"},
		{2950, "uuid", 16, "U"},
		{3802, "jsonb", -1, "U"},
	}
	for _, t := range builtin {
		res.Rows = append(res.Rows, []core.Value{
			core.NewInteger(t.oid), core.NewText(t.name),
			core.NewInteger(t.ln), core.NewText(t.cat),
		})
	}
	enumNames := make([]string, 0, len(ctx.DB.Enums))
	for name := range ctx.DB.Enums {
		enumNames = append(enumNames, name)
	}
	sort.Strings(enumNames)
	for i, name := range enumNames {
		res.Rows = append(res.Rows, []core.Value{
			core.NewInteger(100000 + int64(i)), core.NewText(name),
			core.NewInteger(4), core.NewText("E"),
		})
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func pgNamespace() (*Result, error) {
	res := &Result{Columns: []string{"oid", "nspname"}}
	res.Rows = [][]core.Value{
		{core.NewInteger(11), core.NewText("pg_catalog")},
		{core.NewInteger(2200), core.NewText("public")},
		{core.NewInteger(13000), core.NewText("information_schema")},
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func pgDatabase(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"oid", "datname", "datdba", "encoding"}}
	names := make([]string, 0, len(ctx.Instance.Databases))
	for name := range ctx.Instance.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		owner := ""
		if meta, ok := ctx.Instance.DatabaseMetadata[name]; ok {
			owner = meta.Owner
		}
		res.Rows = append(res.Rows, []core.Value{
			core.NewInteger(1 + int64(i)),
			core.NewText(name),
			core.NewText(owner),
			core.NewText("UTF8"),
		})
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

// pgRoles projects real users and roles; login roles come from the user
// table, group roles from the role registry.
func pgRoles(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"rolname", "rolsuper", "rolcreaterole", "rolcreatedb", "rolcanlogin"}}
	usernames := make([]string, 0, len(ctx.Instance.Users))
	for name := range ctx.Instance.Users {
		usernames = append(usernames, name)
	}
	sort.Strings(usernames)
	for _, name := range usernames {
		u := ctx.Instance.Users[name]
		res.Rows = append(res.Rows, []core.Value{
			core.NewText(u.Username),
			core.NewBoolean(u.IsSuperuser),
			core.NewBoolean(u.CanCreateUser),
			core.NewBoolean(u.CanCreateDB),
			core.NewBoolean(true),
		})
	}
	roleNames := make([]string, 0, len(ctx.Instance.Roles))
	for name := range ctx.Instance.Roles {
		roleNames = append(roleNames, name)
	}
	sort.Strings(roleNames)
	for _, name := range roleNames {
		res.Rows = append(res.Rows, []core.Value{
			core.NewText(name),
			core.NewBoolean(false),
			core.NewBoolean(false),
			core.NewBoolean(false),
			core.NewBoolean(false),
		})
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func pgUser(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"usename", "usesuper", "usecreatedb"}}
	names := make([]string, 0, len(ctx.Instance.Users))
	for name := range ctx.Instance.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		u := ctx.Instance.Users[name]
		res.Rows = append(res.Rows, []core.Value{
			core.NewText(u.Username),
			core.NewBoolean(u.IsSuperuser),
			core.NewBoolean(u.CanCreateDB),
		})
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

// pgAuthMembers projects actual role memberships.
func pgAuthMembers(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"roleid", "member"}}
	roleNames := make([]string, 0, len(ctx.Instance.Roles))
	for name := range ctx.Instance.Roles {
		roleNames = append(roleNames, name)
	}
	sort.Strings(roleNames)
	for _, roleName := range roleNames {
		role := ctx.Instance.Roles[roleName]
		members := make([]string, 0, len(role.Members))
		for m := range role.Members {
			members = append(members, m)
		}
		sort.Strings(members)
		for _, m := range members {
			res.Rows = append(res.Rows, []core.Value{
				core.NewText(roleName),
				core.NewText(m),
			})
		}
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func tablePrivileges(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"table_name", "grantee", "privilege_type"}}
	for _, name := range sortedTableNames(ctx.DB) {
		meta := ctx.DB.TableMetadata[name]
		if meta == nil {
			continue
		}
		grantees := make([]string, 0, len(meta.Privileges))
		for g := range meta.Privileges {
			grantees = append(grantees, g)
		}
		sort.Strings(grantees)
		for _, g := range grantees {
			privs := make([]string, 0, len(meta.Privileges[g]))
			for p := range meta.Privileges[g] {
				privs = append(privs, p.String())
			}
			sort.Strings(privs)
			for _, p := range privs {
				res.Rows = append(res.Rows, []core.Value{
					core.NewText(name), core.NewText(g), core.NewText(p),
				})
			}
		}
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func informationSchemaTables(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"table_catalog", "table_schema", "table_name", "table_type"}}
	for _, name := range sortedTableNames(ctx.DB) {
		res.Rows = append(res.Rows, []core.Value{
			core.NewText(ctx.DB.Name), core.NewText("public"),
			core.NewText(name), core.NewText("BASE TABLE"),
		})
	}
	viewNames := make([]string, 0, len(ctx.DB.Views))
	for name := range ctx.DB.Views {
		viewNames = append(viewNames, name)
	}
	sort.Strings(viewNames)
	for _, name := range viewNames {
		res.Rows = append(res.Rows, []core.Value{
			core.NewText(ctx.DB.Name), core.NewText("public"),
			core.NewText(name), core.NewText("VIEW"),
		})
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func informationSchemaColumns(ctx *Context) (*Result, error) {
	res := &Result{Columns: []string{"table_name", "column_name", "ordinal_position", "is_nullable", "data_type"}}
	for _, name := range sortedTableNames(ctx.DB) {
		table := ctx.DB.Tables[name]
		for i := range table.Columns {
			col := &table.Columns[i]
			nullable := "NO"
			if col.Nullable {
				nullable = "YES"
			}
			res.Rows = append(res.Rows, []core.Value{
				core.NewText(name),
				core.NewText(col.Name),
				core.NewInteger(int64(i + 1)),
				core.NewText(nullable),
				core.NewText(col.Type.String()),
			})
		}
	}
	res.Tag = commandTag("SELECT", len(res.Rows))
	return res, nil
}

func typeOID(t core.DataType) int64 {
	switch t.Name {
	case core.TypeBoolean:
		return 16
	case core.TypeBytea:
		return 17
	case core.TypeBigInt, core.TypeBigSerial:
		return 20
	case core.TypeSmallInt:
		return 21
	case core.TypeInteger, core.TypeSerial:
		return 23
	case core.TypeText:
		return 25
	case core.TypeJson:
		return 114
	case core.TypeReal:
		return 701
	case core.TypeChar:
		return 1042
	case core.TypeVarchar:
		return 1043
	case core.TypeDate:
		return 1082
	case core.TypeTimestamp:
		return 1114
	case core.TypeTimestampTz:
		return 1184
	case core.TypeNumeric:
		return 1700
	case core.TypeUuid:
		return 2950
	case core.TypeJsonb:
		return 3802
	case core.TypeEnum:
		return 25
	default:
		return 25
	}
}

// execShow handles SHOW USERS | DATABASES | TABLES.
func execShow(ctx *Context, stmt *ShowStmt) (*Result, error) {
	switch strings.ToLower(stmt.What) {
	case "users":
		return pgUser(ctx)
	case "databases":
		res := &Result{Columns: []string{"database"}}
		names := make([]string, 0, len(ctx.Instance.Databases))
		for name := range ctx.Instance.Databases {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			res.Rows = append(res.Rows, []core.Value{core.NewText(name)})
		}
		res.Tag = commandTag("SELECT", len(res.Rows))
		return res, nil
	case "tables":
		res := &Result{Columns: []string{"table"}}
		for _, name := range sortedTableNames(ctx.DB) {
			res.Rows = append(res.Rows, []core.Value{core.NewText(name)})
		}
		res.Tag = commandTag("SELECT", len(res.Rows))
		return res, nil
	default:
		return nil, core.ParseError(fmt.Sprintf("unrecognized SHOW target %q", stmt.What))
	}
}
