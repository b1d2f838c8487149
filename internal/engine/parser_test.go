package engine

import (
	"testing"

	"github.com/minipg/minipg/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE users (
		id SERIAL PRIMARY KEY,
		email VARCHAR(120) UNIQUE NOT NULL,
		bio TEXT,
		dept_id INTEGER REFERENCES departments(id)
	)`)
	require.NoError(t, err)
	ct, ok := stmt.(*CreateTableStmt)
	require.True(t, ok)
	assert.Equal(t, "users", ct.Name)
	require.Len(t, ct.Columns, 4)

	assert.True(t, ct.Columns[0].PrimaryKey)
	assert.Equal(t, "serial", ct.Columns[0].TypeName)

	assert.True(t, ct.Columns[1].Unique)
	assert.True(t, ct.Columns[1].NotNull)
	assert.Equal(t, []int{120}, ct.Columns[1].TypeArgs)

	require.NotNil(t, ct.Columns[3].References)
	assert.Equal(t, "departments", ct.Columns[3].References.ReferencedTable)
	assert.Equal(t, "id", ct.Columns[3].References.ReferencedColumn)
}

func TestParseInsertVariants(t *testing.T) {
	stmt, err := Parse(`INSERT INTO t VALUES (1, 'a'), (2, 'b')`)
	require.NoError(t, err)
	ins := stmt.(*InsertStmt)
	assert.Empty(t, ins.Columns)
	assert.Len(t, ins.Rows, 2)

	stmt, err = Parse(`INSERT INTO t (b, a) VALUES ('x', 1)`)
	require.NoError(t, err)
	ins = stmt.(*InsertStmt)
	assert.Equal(t, []string{"b", "a"}, ins.Columns)
}

func TestParseSelectFull(t *testing.T) {
	stmt, err := Parse(`SELECT DISTINCT name, count(*) AS n FROM users
		WHERE age >= 18 AND city IN ('oslo', 'bergen')
		GROUP BY name HAVING n > 2
		ORDER BY name DESC LIMIT 10 OFFSET 5`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	assert.True(t, sel.Distinct)
	assert.Equal(t, "users", sel.From)
	require.NotNil(t, sel.Where)
	assert.Equal(t, CondAnd, sel.Where.Op)
	assert.Equal(t, []string{"name"}, sel.GroupBy)
	require.NotNil(t, sel.Having)
	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Desc)
	require.NotNil(t, sel.Limit)
	assert.Equal(t, 10, *sel.Limit)
	require.NotNil(t, sel.Offset)
	assert.Equal(t, 5, *sel.Offset)
}

func TestParseJoin(t *testing.T) {
	stmt, err := Parse(`SELECT u.name, o.total FROM users u0
		LEFT JOIN orders ON users.id = orders.user_id`)
	// Aliased FROM keeps the table name; the alias token is consumed as an
	// alias of the table expression.
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.NotNil(t, sel.Join)
	assert.Equal(t, JoinLeft, sel.Join.Type)
	assert.Equal(t, "orders", sel.Join.Table)
	assert.Equal(t, "users", sel.Join.LeftCol.Table)
	assert.Equal(t, "id", sel.Join.LeftCol.Name)

	_, err = Parse(`SELECT * FROM a JOIN b ON a.x = b.x JOIN c ON b.y = c.y`)
	assert.Error(t, err)
}

func TestParseSetOps(t *testing.T) {
	stmt, err := Parse(`SELECT id FROM a UNION ALL SELECT id FROM b`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.NotNil(t, sel.SetOp)
	assert.Equal(t, SetUnion, sel.SetOp.Op)
	assert.True(t, sel.SetOp.All)
	assert.Equal(t, "b", sel.SetOp.Right.From)

	stmt, err = Parse(`SELECT id FROM a EXCEPT SELECT id FROM b`)
	require.NoError(t, err)
	assert.Equal(t, SetExcept, stmt.(*SelectStmt).SetOp.Op)
}

func TestParseConditionForms(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM t WHERE a BETWEEN 1 AND 5 OR name LIKE 'a%' OR b IS NOT NULL`)
	require.NoError(t, err)
	where := stmt.(*SelectStmt).Where
	require.NotNil(t, where)
	assert.Equal(t, CondOr, where.Op)

	stmt, err = Parse(`SELECT * FROM t WHERE id IN (SELECT id FROM u)`)
	require.NoError(t, err)
	where = stmt.(*SelectStmt).Where
	assert.Equal(t, CondIn, where.Op)
	require.NotNil(t, where.Subquery)
	assert.Equal(t, "u", where.Subquery.From)
}

func TestParseCaseExpression(t *testing.T) {
	stmt, err := Parse(`SELECT CASE WHEN age >= 18 THEN 'adult' ELSE 'minor' END AS label FROM people`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	require.Len(t, sel.Items, 1)
	ce, ok := sel.Items[0].Expr.(*CaseExpr)
	require.True(t, ok)
	assert.Nil(t, ce.Operand)
	require.Len(t, ce.Whens, 1)
	assert.NotNil(t, ce.Whens[0].Cond)
	assert.NotNil(t, ce.Else)
	assert.Equal(t, "label", sel.Items[0].Alias)
}

func TestParseWindowFunction(t *testing.T) {
	stmt, err := Parse(`SELECT name, row_number() OVER (PARTITION BY dept ORDER BY salary DESC) FROM emp`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	call, ok := sel.Items[1].Expr.(*FuncCall)
	require.True(t, ok)
	require.NotNil(t, call.Over)
	assert.Equal(t, []string{"dept"}, call.Over.PartitionBy)
	require.Len(t, call.Over.OrderBy, 1)
	assert.True(t, call.Over.OrderBy[0].Desc)
}

func TestParseDDLAndAdmin(t *testing.T) {
	stmt, err := Parse(`CREATE TYPE mood AS ENUM ('sad', 'ok', 'happy')`)
	require.NoError(t, err)
	ty := stmt.(*CreateTypeStmt)
	assert.Equal(t, []string{"sad", "ok", "happy"}, ty.Labels)

	stmt, err = Parse(`CREATE UNIQUE INDEX idx_email ON users (email) USING hash`)
	require.NoError(t, err)
	ci := stmt.(*CreateIndexStmt)
	assert.True(t, ci.Unique)
	assert.Equal(t, "hash", ci.Using)

	stmt, err = Parse(`ALTER TABLE t RENAME COLUMN a TO b`)
	require.NoError(t, err)
	at := stmt.(*AlterTableStmt)
	assert.Equal(t, AlterRenameColumn, at.Action)
	assert.Equal(t, "a", at.ColumnName)
	assert.Equal(t, "b", at.NewName)

	stmt, err = Parse(`CREATE USER carol WITH PASSWORD 'secret' SUPERUSER`)
	require.NoError(t, err)
	cu := stmt.(*CreateUserStmt)
	assert.Equal(t, "carol", cu.Name)
	assert.Equal(t, "secret", cu.Password)
	assert.True(t, cu.Superuser)

	stmt, err = Parse(`GRANT SELECT, INSERT ON DATABASE shop TO carol`)
	require.NoError(t, err)
	g := stmt.(*GrantStmt)
	assert.Equal(t, []core.Privilege{core.PrivSelect, core.PrivInsert}, g.Privileges)
	assert.Equal(t, "shop", g.Database)
	assert.Equal(t, "carol", g.Grantee)

	stmt, err = Parse(`GRANT admins TO carol`)
	require.NoError(t, err)
	g = stmt.(*GrantStmt)
	assert.Equal(t, "admins", g.Role)
}

func TestParseErrors(t *testing.T) {
	for _, sql := range []string{
		"",
		"FROBNICATE",
		"SELECT FROM",
		"INSERT t VALUES (1)",
		"CREATE TABLE t",
		"BEGIN ISOLATION LEVEL SERIALIZABLE",
	} {
		_, err := Parse(sql)
		assert.Error(t, err, "sql: %q", sql)
	}
}

func TestParseQuotedIdentifiersAndFolding(t *testing.T) {
	stmt, err := Parse(`SELECT NameMixed FROM Users`)
	require.NoError(t, err)
	sel := stmt.(*SelectStmt)
	assert.Equal(t, "users", sel.From)
	assert.Equal(t, "namemixed", sel.Items[0].Expr.(*ColumnRef).Name)

	stmt, err = Parse(`SELECT "NameMixed" FROM "Users"`)
	require.NoError(t, err)
	sel = stmt.(*SelectStmt)
	assert.Equal(t, "Users", sel.From)
	assert.Equal(t, "NameMixed", sel.Items[0].Expr.(*ColumnRef).Name)
}
