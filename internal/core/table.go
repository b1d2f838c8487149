package core

// Table is the schema object for one table. Row payloads live in the paged
// heap addressed by the table's id; the schema never holds them.
type Table struct {
	Name    string
	Columns []Column
	// Sequences maps SERIAL/BIGSERIAL column names to their next value.
	Sequences map[string]int64
	Owner     string
}

// NewTable builds a table schema, initializing a sequence for every
// SERIAL/BIGSERIAL column.
func NewTable(name string, columns []Column, owner string) *Table {
	t := &Table{
		Name:      name,
		Columns:   columns,
		Sequences: make(map[string]int64),
		Owner:     owner,
	}
	for _, col := range columns {
		if col.Type.IsSerial() {
			t.Sequences[col.Name] = 1
		}
	}
	return t
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	if i := t.ColumnIndex(name); i >= 0 {
		return &t.Columns[i]
	}
	return nil
}

// ColumnNames returns the names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i := range t.Columns {
		names[i] = t.Columns[i].Name
	}
	return names
}

// PrimaryKeyColumn returns the primary-key column, or nil.
func (t *Table) PrimaryKeyColumn() *Column {
	for i := range t.Columns {
		if t.Columns[i].PrimaryKey {
			return &t.Columns[i]
		}
	}
	return nil
}

// NextSequenceValue returns the current sequence value for col and bumps it.
func (t *Table) NextSequenceValue(col string) int64 {
	v := t.Sequences[col]
	if v < 1 {
		v = 1
	}
	t.Sequences[col] = v + 1
	return v
}

// AdvanceSequence moves the sequence past an explicitly inserted value, so
// the next auto-assignment never collides with it.
func (t *Table) AdvanceSequence(col string, inserted int64) {
	if cur, ok := t.Sequences[col]; !ok || inserted+1 > cur {
		t.Sequences[col] = inserted + 1
	}
}

// Clone deep-copies the schema (used for ROLLBACK images).
func (t *Table) Clone() *Table {
	cols := make([]Column, len(t.Columns))
	copy(cols, t.Columns)
	for i := range cols {
		if fk := cols[i].ForeignKey; fk != nil {
			fkCopy := *fk
			cols[i].ForeignKey = &fkCopy
		}
		if labels := cols[i].Type.EnumLabels; labels != nil {
			cols[i].Type.EnumLabels = append([]string(nil), labels...)
		}
	}
	seqs := make(map[string]int64, len(t.Sequences))
	for k, v := range t.Sequences {
		seqs[k] = v
	}
	return &Table{Name: t.Name, Columns: cols, Sequences: seqs, Owner: t.Owner}
}
