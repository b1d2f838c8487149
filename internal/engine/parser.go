package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/minipg/minipg/internal/core"
	"github.com/shopspring/decimal"
)

// Parser is a recursive-descent parser over the token stream. It favors
// clarity and local error messages over grammar generality.
type Parser struct {
	src  string
	lx   *lexer
	cur  token
	peek token
}

// NewParser builds a parser for one SQL statement.
func NewParser(sql string) *Parser {
	p := &Parser{src: sql, lx: newLexer(sql)}
	p.cur = p.lx.nextToken()
	p.peek = p.lx.nextToken()
	return p
}

// Parse parses a single SQL statement.
func Parse(sql string) (Statement, error) {
	return NewParser(sql).ParseStatement()
}

func (p *Parser) next() { p.cur, p.peek = p.peek, p.lx.nextToken() }

func (p *Parser) errf(format string, args ...any) error {
	return core.ParseError(fmt.Sprintf(format, args...) + fmt.Sprintf(" (near position %d)", p.cur.Pos))
}

func (p *Parser) isKeyword(kw string) bool {
	return p.cur.Typ == tKeyword && p.cur.Val == kw
}

func (p *Parser) acceptKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) error {
	if p.acceptKeyword(kw) {
		return nil
	}
	return p.errf("expected %s, got %q", kw, p.cur.Val)
}

func (p *Parser) isSymbol(sym string) bool {
	return p.cur.Typ == tSymbol && p.cur.Val == sym
}

func (p *Parser) acceptSymbol(sym string) bool {
	if p.isSymbol(sym) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expectSymbol(sym string) error {
	if p.acceptSymbol(sym) {
		return nil
	}
	return p.errf("expected %q, got %q", sym, p.cur.Val)
}

// ident accepts an identifier; unreserved keywords double as identifiers so
// common column names stay usable.
func (p *Parser) ident() (string, error) {
	switch p.cur.Typ {
	case tIdent:
		v := p.cur.Val
		p.next()
		return v, nil
	case tKeyword:
		v := strings.ToLower(p.cur.Val)
		p.next()
		return v, nil
	default:
		return "", p.errf("expected identifier, got %q", p.cur.Val)
	}
}

// ParseStatement dispatches on the leading keyword.
func (p *Parser) ParseStatement() (Statement, error) {
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDrop()
	case p.isKeyword("ALTER"):
		return p.parseAlter()
	case p.isKeyword("BEGIN"):
		return p.parseBegin()
	case p.isKeyword("COMMIT"):
		p.next()
		return &CommitStmt{}, nil
	case p.isKeyword("ROLLBACK"):
		p.next()
		return &RollbackStmt{}, nil
	case p.isKeyword("VACUUM"):
		p.next()
		stmt := &VacuumStmt{}
		if p.cur.Typ == tIdent {
			stmt.Table = p.cur.Val
			p.next()
		}
		return stmt, nil
	case p.isKeyword("EXPLAIN"):
		p.next()
		sel, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		return &ExplainStmt{Query: sel}, nil
	case p.isKeyword("GRANT"):
		return p.parseGrant()
	case p.isKeyword("REVOKE"):
		return p.parseRevoke()
	case p.isKeyword("SHOW"):
		return p.parseShow()
	default:
		return nil, p.errf("unsupported statement starting with %q", p.cur.Val)
	}
}

func (p *Parser) parseBegin() (Statement, error) {
	p.next()
	p.acceptKeyword("TRANSACTION")
	if p.acceptKeyword("ISOLATION") {
		if err := p.expectKeyword("LEVEL"); err != nil {
			return nil, err
		}
		if p.acceptKeyword("SERIALIZABLE") {
			return nil, core.ParseError("serializable isolation not supported")
		}
		p.acceptKeyword("READ")
		p.acceptKeyword("COMMITTED")
	}
	return &BeginStmt{}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// SELECT
// ───────────────────────────────────────────────────────────────────────────

func (p *Parser) parseSelect() (*SelectStmt, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStmt{}
	stmt.Distinct = p.acceptKeyword("DISTINCT")

	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		stmt.Items = append(stmt.Items, *item)
		if !p.acceptSymbol(",") {
			break
		}
	}

	if p.acceptKeyword("FROM") {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.From = p.qualified(name)
		// Optional table alias, accepted and ignored.
		if p.acceptKeyword("AS") {
			if _, err := p.ident(); err != nil {
				return nil, err
			}
		} else if p.cur.Typ == tIdent {
			p.next()
		}

		// At most one JOIN per query.
		if join, err := p.parseJoin(); err != nil {
			return nil, err
		} else if join != nil {
			stmt.Join = join
			if p.isKeyword("JOIN") || p.isKeyword("INNER") || p.isKeyword("LEFT") || p.isKeyword("RIGHT") {
				return nil, p.errf("only one JOIN per query is supported")
			}
		}
	}

	if p.acceptKeyword("WHERE") {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
	}

	if p.acceptKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, col)
			if !p.acceptSymbol(",") {
				break
			}
		}
	}

	if p.acceptKeyword("HAVING") {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		stmt.Having = cond
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Column: col}
			if p.acceptKeyword("DESC") {
				item.Desc = true
			} else {
				p.acceptKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if !p.acceptSymbol(",") {
				break
			}
		}
	}

	if p.acceptKeyword("LIMIT") {
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.acceptKeyword("OFFSET") {
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}

	// Set operations chain to the right.
	var op SetOpType
	hasOp := false
	switch {
	case p.acceptKeyword("UNION"):
		op, hasOp = SetUnion, true
	case p.acceptKeyword("INTERSECT"):
		op, hasOp = SetIntersect, true
	case p.acceptKeyword("EXCEPT"):
		op, hasOp = SetExcept, true
	}
	if hasOp {
		all := p.acceptKeyword("ALL")
		right, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		stmt.SetOp = &SetOpClause{Op: op, All: all, Right: right}
	}

	return stmt, nil
}

// qualified glues schema-qualified names (pg_catalog.pg_class) back together.
func (p *Parser) qualified(first string) string {
	name := first
	for p.isSymbol(".") {
		p.next()
		part, err := p.ident()
		if err != nil {
			return name
		}
		name = name + "." + part
	}
	return name
}

func (p *Parser) parseSelectItem() (*SelectItem, error) {
	if p.acceptSymbol("*") {
		return &SelectItem{Star: true}, nil
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	item := &SelectItem{Expr: expr}
	if p.acceptKeyword("AS") {
		alias, err := p.ident()
		if err != nil {
			return nil, err
		}
		item.Alias = alias
	} else if p.cur.Typ == tIdent {
		item.Alias = p.cur.Val
		p.next()
	}
	return item, nil
}

func (p *Parser) parseJoin() (*JoinClause, error) {
	jt := JoinInner
	switch {
	case p.acceptKeyword("JOIN"):
	case p.isKeyword("INNER") && p.peek.Val == "JOIN":
		p.next()
		p.next()
	case p.isKeyword("LEFT"):
		p.next()
		p.acceptKeyword("OUTER")
		if err := p.expectKeyword("JOIN"); err != nil {
			return nil, err
		}
		jt = JoinLeft
	case p.isKeyword("RIGHT"):
		p.next()
		p.acceptKeyword("OUTER")
		if err := p.expectKeyword("JOIN"); err != nil {
			return nil, err
		}
		jt = JoinRight
	default:
		return nil, nil
	}

	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if p.cur.Typ == tIdent {
		// Joined-table alias, accepted and ignored.
		p.next()
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	left, err := p.parseColumnRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("="); err != nil {
		return nil, err
	}
	right, err := p.parseColumnRef()
	if err != nil {
		return nil, err
	}
	return &JoinClause{Type: jt, Table: table, LeftCol: *left, RightCol: *right}, nil
}

func (p *Parser) parseColumnRef() (*ColumnRef, error) {
	first, err := p.ident()
	if err != nil {
		return nil, err
	}
	ref := &ColumnRef{Name: first}
	if p.acceptSymbol(".") {
		second, err := p.ident()
		if err != nil {
			return nil, err
		}
		ref.Table = first
		ref.Name = second
	}
	return ref, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Expressions
// ───────────────────────────────────────────────────────────────────────────

func (p *Parser) parseExpr() (Expr, error) {
	switch {
	case p.isKeyword("CASE"):
		return p.parseCase()
	case p.isKeyword("NULL"):
		p.next()
		return &Literal{Val: core.Null()}, nil
	case p.isKeyword("TRUE"):
		p.next()
		return &Literal{Val: core.NewBoolean(true)}, nil
	case p.isKeyword("FALSE"):
		p.next()
		return &Literal{Val: core.NewBoolean(false)}, nil
	case p.cur.Typ == tString:
		v := p.cur.Val
		p.next()
		return &Literal{Val: core.NewText(v)}, nil
	case p.cur.Typ == tNumber:
		return p.parseNumberExpr()
	case p.isSymbol("-") && p.peek.Typ == tNumber:
		p.next()
		lit, err := p.parseNumberExpr()
		if err != nil {
			return nil, err
		}
		l := lit.(*Literal)
		switch l.Val.Kind {
		case core.KindInteger:
			l.Val.Int = -l.Val.Int
		case core.KindReal:
			l.Val.Float = -l.Val.Float
		case core.KindNumeric:
			l.Val.Dec = l.Val.Dec.Neg()
		}
		return l, nil
	}

	// Identifier: column ref, function call, or count(*)-style aggregate.
	// Reserved keywords are not valid expression heads.
	if p.cur.Typ != tIdent {
		return nil, p.errf("unexpected %q in expression", p.cur.Val)
	}
	name := p.cur.Val
	p.next()
	if p.isSymbol("(") {
		return p.parseFuncCall(name)
	}
	if p.isSymbol(".") {
		p.next()
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: name, Name: col}, nil
	}
	return &ColumnRef{Name: name}, nil
}

func (p *Parser) parseNumberExpr() (Expr, error) {
	raw := p.cur.Val
	p.next()
	if !strings.Contains(raw, ".") {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, p.errf("bad integer literal %q", raw)
		}
		return &Literal{Val: core.NewInteger(n)}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, p.errf("bad numeric literal %q", raw)
	}
	f, _ := d.Float64()
	return &Literal{Val: core.NewReal(f)}, nil
}

func (p *Parser) parseFuncCall(name string) (Expr, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	call := &FuncCall{Name: strings.ToLower(name)}
	if p.acceptSymbol("*") {
		call.Star = true
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	} else if p.acceptSymbol(")") {
		// zero-arg call
	} else {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if !p.acceptSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}

	// OVER (PARTITION BY ... ORDER BY ...)
	if p.cur.Typ == tIdent && strings.EqualFold(p.cur.Val, "over") {
		p.next()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		spec := &WindowSpec{}
		if p.acceptKeyword("PARTITION") {
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			for {
				col, err := p.ident()
				if err != nil {
					return nil, err
				}
				spec.PartitionBy = append(spec.PartitionBy, col)
				if !p.acceptSymbol(",") {
					break
				}
			}
		}
		if p.acceptKeyword("ORDER") {
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			for {
				col, err := p.ident()
				if err != nil {
					return nil, err
				}
				item := OrderItem{Column: col}
				if p.acceptKeyword("DESC") {
					item.Desc = true
				} else {
					p.acceptKeyword("ASC")
				}
				spec.OrderBy = append(spec.OrderBy, item)
				if !p.acceptSymbol(",") {
					break
				}
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		call.Over = spec
	}
	return call, nil
}

func (p *Parser) parseCase() (Expr, error) {
	if err := p.expectKeyword("CASE"); err != nil {
		return nil, err
	}
	expr := &CaseExpr{}
	if !p.isKeyword("WHEN") {
		operand, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Operand = operand
	}
	for p.acceptKeyword("WHEN") {
		var arm CaseWhen
		if expr.Operand != nil {
			match, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			arm.Match = match
		} else {
			cond, err := p.parseCondition()
			if err != nil {
				return nil, err
			}
			arm.Cond = cond
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arm.Then = then
		expr.Whens = append(expr.Whens, arm)
	}
	if p.acceptKeyword("ELSE") {
		els, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		expr.Else = els
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return expr, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Conditions
// ───────────────────────────────────────────────────────────────────────────

func (p *Parser) parseCondition() (*Condition, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (*Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Condition{Op: CondOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (*Condition, error) {
	left, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		left = &Condition{Op: CondAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePredicate() (*Condition, error) {
	if p.acceptSymbol("(") {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return cond, nil
	}

	col, err := p.ident()
	if err != nil {
		return nil, err
	}
	col = p.qualifiedColumn(col)

	switch {
	case p.acceptKeyword("IS"):
		if p.acceptKeyword("NOT") {
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			return &Condition{Op: CondIsNotNull, Column: col}, nil
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &Condition{Op: CondIsNull, Column: col}, nil

	case p.acceptKeyword("BETWEEN"):
		low, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &Condition{Op: CondBetween, Column: col, Low: low, High: high}, nil

	case p.acceptKeyword("LIKE"):
		pattern, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &Condition{Op: CondLike, Column: col, Value: pattern}, nil

	case p.acceptKeyword("IN"):
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		cond := &Condition{Op: CondIn, Column: col}
		if p.isKeyword("SELECT") {
			sub, err := p.parseSelect()
			if err != nil {
				return nil, err
			}
			cond.Subquery = sub
		} else {
			for {
				v, err := p.parseValue()
				if err != nil {
					return nil, err
				}
				cond.Values = append(cond.Values, v)
				if !p.acceptSymbol(",") {
					break
				}
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return cond, nil

	case p.isSymbol("="), p.isSymbol("<>"), p.isSymbol(">"), p.isSymbol("<"), p.isSymbol(">="), p.isSymbol("<="):
		op := map[string]CondOp{
			"=": CondEq, "<>": CondNe, ">": CondGt, "<": CondLt, ">=": CondGe, "<=": CondLe,
		}[p.cur.Val]
		p.next()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &Condition{Op: op, Column: col, Value: v}, nil

	default:
		return nil, p.errf("expected comparison operator after %q", col)
	}
}

func (p *Parser) qualifiedColumn(first string) string {
	if p.isSymbol(".") {
		p.next()
		if second, err := p.ident(); err == nil {
			return first + "." + second
		}
	}
	return first
}

// parseValue parses a literal comparison value.
func (p *Parser) parseValue() (core.Value, error) {
	switch {
	case p.isKeyword("NULL"):
		p.next()
		return core.Null(), nil
	case p.isKeyword("TRUE"):
		p.next()
		return core.NewBoolean(true), nil
	case p.isKeyword("FALSE"):
		p.next()
		return core.NewBoolean(false), nil
	case p.cur.Typ == tString:
		v := p.cur.Val
		p.next()
		return core.NewText(v), nil
	case p.cur.Typ == tNumber:
		lit, err := p.parseNumberExpr()
		if err != nil {
			return core.Value{}, err
		}
		return lit.(*Literal).Val, nil
	case p.isSymbol("-") && p.peek.Typ == tNumber:
		lit, err := p.parseExpr()
		if err != nil {
			return core.Value{}, err
		}
		return lit.(*Literal).Val, nil
	default:
		return core.Value{}, p.errf("expected literal value, got %q", p.cur.Val)
	}
}

func (p *Parser) parseInt() (int, error) {
	if p.cur.Typ != tNumber {
		return 0, p.errf("expected integer, got %q", p.cur.Val)
	}
	n, err := strconv.Atoi(p.cur.Val)
	if err != nil {
		return 0, p.errf("bad integer %q", p.cur.Val)
	}
	p.next()
	return n, nil
}

// ───────────────────────────────────────────────────────────────────────────
// INSERT / UPDATE / DELETE
// ───────────────────────────────────────────────────────────────────────────

func (p *Parser) parseInsert() (Statement, error) {
	p.next()
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Table: table}

	if p.acceptSymbol("(") {
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if !p.acceptSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			expr, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, expr)
			if !p.acceptSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.acceptSymbol(",") {
			break
		}
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.next()
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Table: table}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, SetClause{Column: col, Value: expr})
		if !p.acceptSymbol(",") {
			break
		}
	}
	if p.acceptKeyword("WHERE") {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Table: table}
	if p.acceptKeyword("WHERE") {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		stmt.Where = cond
	}
	return stmt, nil
}

// ───────────────────────────────────────────────────────────────────────────
// CREATE / DROP / ALTER
// ───────────────────────────────────────────────────────────────────────────

func (p *Parser) parseCreate() (Statement, error) {
	p.next()
	switch {
	case p.acceptKeyword("TABLE"):
		return p.parseCreateTable()
	case p.acceptKeyword("TYPE"):
		return p.parseCreateType()
	case p.isKeyword("UNIQUE") || p.isKeyword("INDEX"):
		return p.parseCreateIndex()
	case p.acceptKeyword("VIEW"):
		return p.parseCreateView()
	case p.acceptKeyword("USER"):
		return p.parseCreateUser()
	case p.acceptKeyword("ROLE"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &CreateRoleStmt{Name: name}, nil
	case p.acceptKeyword("DATABASE"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt := &CreateDatabaseStmt{Name: name}
		p.acceptKeyword("WITH")
		if p.acceptKeyword("OWNER") {
			p.acceptSymbol("=")
			owner, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Owner = owner
		}
		return stmt, nil
	default:
		return nil, p.errf("unsupported CREATE %q", p.cur.Val)
	}
}

func (p *Parser) parseCreateTable() (Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &CreateTableStmt{Name: name}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		def, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, *def)
		if !p.acceptSymbol(",") {
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (*ColumnDef, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	def := &ColumnDef{Name: name}

	// Type name, possibly two words (double precision) or parameterized.
	typeName, err := p.ident()
	if err != nil {
		return nil, err
	}
	if typeName == "double" && p.cur.Typ == tIdent && p.cur.Val == "precision" {
		p.next()
		typeName = "double precision"
	}
	if typeName == "character" {
		if p.cur.Typ == tIdent && p.cur.Val == "varying" {
			p.next()
			typeName = "varchar"
		}
	}
	if typeName == "timestamp" && p.acceptKeyword("WITH") {
		// timestamp with time zone
		p.ident() // time
		p.ident() // zone
		typeName = "timestamptz"
	}
	def.TypeName = typeName

	if p.acceptSymbol("(") {
		for {
			n, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			def.TypeArgs = append(def.TypeArgs, n)
			if !p.acceptSymbol(",") {
				break
			}
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	}

	for {
		switch {
		case p.acceptKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			def.PrimaryKey = true
		case p.acceptKeyword("NOT"):
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			def.NotNull = true
		case p.acceptKeyword("NULL"):
			// explicit nullable, the default
		case p.acceptKeyword("UNIQUE"):
			def.Unique = true
		case p.acceptKeyword("REFERENCES"):
			refTable, err := p.ident()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol("("); err != nil {
				return nil, err
			}
			refCol, err := p.ident()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			def.References = &core.ForeignKey{ReferencedTable: refTable, ReferencedColumn: refCol}
		default:
			return def, nil
		}
	}
}

func (p *Parser) parseCreateType() (Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("ENUM"); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	stmt := &CreateTypeStmt{Name: name}
	for {
		if p.cur.Typ != tString {
			return nil, p.errf("expected enum label string, got %q", p.cur.Val)
		}
		stmt.Labels = append(stmt.Labels, p.cur.Val)
		p.next()
		if !p.acceptSymbol(",") {
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseCreateIndex() (Statement, error) {
	stmt := &CreateIndexStmt{Using: "btree"}
	if p.acceptKeyword("UNIQUE") {
		stmt.Unique = true
	}
	if err := p.expectKeyword("INDEX"); err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Name = name
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Table = table
	if p.acceptKeyword("USING") {
		kind, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Using = strings.ToLower(kind)
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if !p.acceptSymbol(",") {
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if p.acceptKeyword("USING") {
		kind, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Using = strings.ToLower(kind)
	}
	if stmt.Using != "btree" && stmt.Using != "hash" {
		return nil, p.errf("unsupported index method %q", stmt.Using)
	}
	return stmt, nil
}

func (p *Parser) parseCreateView() (Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	// The view body is stored as raw SQL text and re-parsed on reference.
	if !p.isKeyword("SELECT") {
		return nil, p.errf("expected SELECT in view definition")
	}
	query := strings.TrimSpace(p.src[p.cur.Pos:])
	query = strings.TrimSuffix(query, ";")
	// Validate it parses now so broken views are rejected at CREATE time.
	if _, err := NewParser(query).parseSelect(); err != nil {
		return nil, err
	}
	return &CreateViewStmt{Name: name, Query: query}, nil
}

func (p *Parser) parseCreateUser() (Statement, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt := &CreateUserStmt{Name: name}
	if p.acceptKeyword("WITH") {
		for {
			switch {
			case p.acceptKeyword("PASSWORD"):
				if p.cur.Typ != tString {
					return nil, p.errf("expected password string")
				}
				stmt.Password = p.cur.Val
				p.next()
			case p.acceptKeyword("SUPERUSER"):
				stmt.Superuser = true
			default:
				return stmt, nil
			}
		}
	}
	return stmt, nil
}

func (p *Parser) parseDrop() (Statement, error) {
	p.next()
	switch {
	case p.acceptKeyword("TABLE"):
		ifExists := false
		if p.acceptKeyword("IF") {
			if err := p.expectKeyword("EXISTS"); err != nil {
				return nil, err
			}
			ifExists = true
		}
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &DropTableStmt{Name: name, IfExists: ifExists}, nil
	case p.acceptKeyword("INDEX"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &DropIndexStmt{Name: name}, nil
	case p.acceptKeyword("VIEW"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &DropViewStmt{Name: name}, nil
	case p.acceptKeyword("USER"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &DropUserStmt{Name: name}, nil
	case p.acceptKeyword("ROLE"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &DropRoleStmt{Name: name}, nil
	case p.acceptKeyword("DATABASE"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &DropDatabaseStmt{Name: name}, nil
	default:
		return nil, p.errf("unsupported DROP %q", p.cur.Val)
	}
}

func (p *Parser) parseAlter() (Statement, error) {
	p.next()
	switch {
	case p.acceptKeyword("TABLE"):
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt := &AlterTableStmt{Table: table}
		switch {
		case p.acceptKeyword("ADD"):
			p.acceptKeyword("COLUMN")
			def, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Action = AlterAddColumn
			stmt.Column = def
		case p.acceptKeyword("DROP"):
			p.acceptKeyword("COLUMN")
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Action = AlterDropColumn
			stmt.ColumnName = col
		case p.acceptKeyword("RENAME"):
			if p.acceptKeyword("COLUMN") {
				old, err := p.ident()
				if err != nil {
					return nil, err
				}
				if err := p.expectKeyword("TO"); err != nil {
					return nil, err
				}
				newName, err := p.ident()
				if err != nil {
					return nil, err
				}
				stmt.Action = AlterRenameColumn
				stmt.ColumnName = old
				stmt.NewName = newName
			} else {
				if err := p.expectKeyword("TO"); err != nil {
					return nil, err
				}
				newName, err := p.ident()
				if err != nil {
					return nil, err
				}
				stmt.Action = AlterRenameTable
				stmt.NewName = newName
			}
		default:
			return nil, p.errf("unsupported ALTER TABLE action %q", p.cur.Val)
		}
		return stmt, nil
	case p.acceptKeyword("USER"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("WITH"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("PASSWORD"); err != nil {
			return nil, err
		}
		if p.cur.Typ != tString {
			return nil, p.errf("expected password string")
		}
		pw := p.cur.Val
		p.next()
		return &AlterUserStmt{Name: name, Password: pw}, nil
	default:
		return nil, p.errf("unsupported ALTER %q", p.cur.Val)
	}
}

// ───────────────────────────────────────────────────────────────────────────
// GRANT / REVOKE / SHOW
// ───────────────────────────────────────────────────────────────────────────

func (p *Parser) parseGrant() (Statement, error) {
	p.next()
	stmt := &GrantStmt{}

	// GRANT role TO user, or GRANT privs ON ... TO grantee.
	if privs, ok := p.tryParsePrivileges(); ok {
		stmt.Privileges = privs
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		if p.acceptKeyword("DATABASE") {
			name, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Database = name
		} else {
			p.acceptKeyword("TABLE")
			name, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Table = name
		}
		if err := p.expectKeyword("TO"); err != nil {
			return nil, err
		}
		grantee, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Grantee = grantee
		return stmt, nil
	}

	role, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	grantee, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Role = role
	stmt.Grantee = grantee
	return stmt, nil
}

func (p *Parser) parseRevoke() (Statement, error) {
	p.next()
	stmt := &RevokeStmt{}
	if privs, ok := p.tryParsePrivileges(); ok {
		stmt.Privileges = privs
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		if p.acceptKeyword("DATABASE") {
			name, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Database = name
		} else {
			p.acceptKeyword("TABLE")
			name, err := p.ident()
			if err != nil {
				return nil, err
			}
			stmt.Table = name
		}
		if err := p.expectKeyword("FROM"); err != nil {
			return nil, err
		}
		grantee, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Grantee = grantee
		return stmt, nil
	}

	role, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	grantee, err := p.ident()
	if err != nil {
		return nil, err
	}
	stmt.Role = role
	stmt.Grantee = grantee
	return stmt, nil
}

// tryParsePrivileges parses a privilege list when the next tokens are
// privilege keywords followed by ON.
func (p *Parser) tryParsePrivileges() ([]core.Privilege, bool) {
	name := strings.ToUpper(p.cur.Val)
	if _, ok := core.ParsePrivilege(name); !ok {
		return nil, false
	}
	var privs []core.Privilege
	for {
		priv, ok := core.ParsePrivilege(strings.ToUpper(p.cur.Val))
		if !ok {
			return nil, false
		}
		privs = append(privs, priv)
		p.next()
		if !p.acceptSymbol(",") {
			break
		}
	}
	return privs, true
}

func (p *Parser) parseShow() (Statement, error) {
	p.next()
	switch {
	case p.acceptKeyword("USERS"):
		return &ShowStmt{What: "users"}, nil
	case p.acceptKeyword("DATABASES"):
		return &ShowStmt{What: "databases"}, nil
	case p.acceptKeyword("TABLES"):
		return &ShowStmt{What: "tables"}, nil
	default:
		what, err := p.ident()
		if err != nil {
			return nil, err
		}
		return &ShowStmt{What: strings.ToLower(what)}, nil
	}
}
