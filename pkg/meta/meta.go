// Package meta models the table schema the statistics server works against:
// columns, indexes and index columns as harvested from information_schema.
// IndexColumn refers to its column by (db, table, name) instead of a back
// pointer, the owning table is looked up through the task registry.
package meta

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ErrValidation reports inconsistent schema input at ingest time.
var ErrValidation = errors.New("validation error")

// TableID identifies a table.
type TableID struct {
	DB    string `json:"db_name"`
	Table string `json:"table_name"`
}

// YesNoBool decodes information_schema booleans, which arrive either as a
// JSON bool or as the strings YES/NO.
type YesNoBool bool

func (b *YesNoBool) UnmarshalJSON(data []byte) error {
	d := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(d, []byte("true")):
		*b = true
	case bytes.Equal(d, []byte("false")), bytes.Equal(d, []byte("null")):
		*b = false
	default:
		var s string
		if err := jsoniter.Unmarshal(d, &s); err != nil {
			return errors.Wrapf(ErrValidation, "bad boolean %s", string(data))
		}
		switch strings.ToUpper(s) {
		case "YES", "TRUE", "1":
			*b = true
		default:
			*b = false
		}
	}
	return nil
}

func (b YesNoBool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

// Column is one table column.
type Column struct {
	Name            string    `json:"name"`
	Table           string    `json:"table,omitempty"`
	DB              string    `json:"db,omitempty"`
	OrdinalPosition int       `json:"ordinal_position,omitempty"`
	IsNullable      YesNoBool `json:"is_nullable,omitempty"`
	DataType        string    `json:"data_type,omitempty"`
	ColumnType      string    `json:"column_type,omitempty"`
	ColumnKey       string    `json:"column_key,omitempty"`
	IsPK            bool      `json:"is_pk,omitempty"`
	AutoIncrement   bool      `json:"auto_increment,omitempty"`
	EnumCandidates  []string  `json:"enum_candidates,omitempty"`
}

// IndexType classifies an index.
type IndexType string

const (
	IndexPrimary    IndexType = "PRIMARY"
	IndexUnique     IndexType = "UNIQUE"
	IndexNormal     IndexType = "NORMAL"
	IndexForeignKey IndexType = "FOREIGN_KEY"
)

// IndexColumn is one key part of an index. Name may be empty for functional
// keys, which carry the expression instead.
type IndexColumn struct {
	Name        string   `json:"name,omitempty"`
	Cardinality int64    `json:"cardinality,omitempty"`
	SubPart     int      `json:"sub_part,omitempty"`
	Expression  string   `json:"expression,omitempty"`
	Collation   string   `json:"collation,omitempty"` // asc or desc
	TableID     *TableID `json:"table_id,omitempty"`
}

func (ic *IndexColumn) IsDesc() bool { return ic.Collation == "desc" }

var funcKeyRe = regexp.MustCompile("(?i)cast\\(\\s*(?:json_extract\\(\\s*)?`?([A-Za-z_][A-Za-z0-9_]*)`?")

// ResolveName returns the column name, parsing it out of the expression for
// functional keys such as cast(json_extract(col, ...) as unsigned array).
func (ic *IndexColumn) ResolveName() string {
	if ic.Name != "" {
		return ic.Name
	}
	if m := funcKeyRe.FindStringSubmatch(ic.Expression); m != nil {
		return m[1]
	}
	return ""
}

// Index is one table index.
type Index struct {
	DBName    string        `json:"db_name,omitempty"`
	TableName string        `json:"table_name,omitempty"`
	Name      string        `json:"name"`
	Type      IndexType     `json:"type,omitempty"`
	IsUnique  bool          `json:"is_unique,omitempty"`
	IsVisible bool          `json:"is_visible,omitempty"`
	Columns   []IndexColumn `json:"columns,omitempty"`
}

// ColumnNames lists the resolved key column names in index order.
func (idx *Index) ColumnNames() []string {
	names := make([]string, 0, len(idx.Columns))
	for i := range idx.Columns {
		names = append(names, idx.Columns[i].ResolveName())
	}
	return names
}

// Table is the schema of one table plus its information_schema sizes.
type Table struct {
	Name             string   `json:"name"`
	DB               string   `json:"db,omitempty"`
	Engine           string   `json:"engine,omitempty"`
	Rows             int64    `json:"rows,omitempty"`
	AvgRowLength     int64    `json:"avg_row_length,omitempty"`
	DataLength       int64    `json:"data_length,omitempty"`
	IndexLength      int64    `json:"index_length,omitempty"`
	DataFree         int64    `json:"data_free,omitempty"`
	TableSize        int64    `json:"table_size,omitempty"`
	Columns          []Column `json:"columns,omitempty"`
	Indexes          []Index  `json:"indexes,omitempty"`
	ClusterIndexSize int64    `json:"cluster_index_size,omitempty"`
	OtherIndexSizes  int64    `json:"other_index_sizes,omitempty"`
}

// Normalize backfills index and column ownership fields and resolves
// functional key names. Called once on ingest.
func (t *Table) Normalize() {
	for i := range t.Columns {
		if t.Columns[i].DB == "" {
			t.Columns[i].DB = t.DB
		}
		if t.Columns[i].Table == "" {
			t.Columns[i].Table = t.Name
		}
	}
	for i := range t.Indexes {
		idx := &t.Indexes[i]
		if idx.DBName == "" {
			idx.DBName = t.DB
		}
		if idx.TableName == "" {
			idx.TableName = t.Name
		}
		for c := range idx.Columns {
			ic := &idx.Columns[c]
			if ic.Name == "" {
				ic.Name = ic.ResolveName()
			}
			if ic.TableID == nil {
				ic.TableID = &TableID{DB: t.DB, Table: t.Name}
			}
			// index prefixes over large text columns default to 255 bytes
			if ic.SubPart == 0 {
				if col := t.Column(ic.Name); col != nil {
					switch strings.ToUpper(col.DataType) {
					case "TEXT", "LONGTEXT":
						ic.SubPart = 255
					}
				}
			}
		}
	}
}

// Column finds a column by name, case-insensitively.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// Index finds an index by name, case-insensitively.
func (t *Table) Index(name string) *Index {
	for i := range t.Indexes {
		if strings.EqualFold(t.Indexes[i].Name, name) {
			return &t.Indexes[i]
		}
	}
	return nil
}

// Validate checks the schema is internally consistent: every index key must
// resolve to a declared column. All problems are reported at once.
func (t *Table) Validate() error {
	var errs *multierror.Error
	if t.Name == "" {
		errs = multierror.Append(errs, errors.Wrap(ErrValidation, "table has no name"))
	}
	for i := range t.Indexes {
		idx := &t.Indexes[i]
		for c := range idx.Columns {
			name := idx.Columns[c].ResolveName()
			if name == "" {
				errs = multierror.Append(errs, errors.Wrapf(ErrValidation,
					"index %s.%s key %d has neither name nor parsable expression", t.Name, idx.Name, c))
				continue
			}
			if t.Column(name) == nil {
				errs = multierror.Append(errs, errors.Wrapf(ErrValidation,
					"index %s.%s references unknown column %s", t.Name, idx.Name, name))
			}
		}
	}
	return errs.ErrorOrNil()
}
