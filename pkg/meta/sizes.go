package meta

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Size estimation for tables whose information_schema lengths were not
// harvested. The numbers mimic what InnoDB reports for a freshly loaded
// table: byte widths per column type, a fixed per-record overhead, and a
// two-method weighted guess for index pages.
const (
	primaryKeyRefLength = 8         // assume a bigint primary key reference
	indexEntryOverhead  = 10        // fixed overhead per index record
	fillFactorMult      = 1.2       // empirical index fill coefficient
	indexPageSize       = 16 * 1024 // InnoDB page size
	pageFillRatio       = 0.7
	pointerSize         = 6
	rowOverhead         = 10 // fixed overhead per clustered-index row
)

var colTypeRe = regexp.MustCompile(`^([a-z]+)(?:\((.+?)\))?`)

func splitColType(colType string) (base, params string) {
	m := colTypeRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(colType)))
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

func typeParamLength(params string, fallback float64) float64 {
	n, err := strconv.Atoi(strings.Split(params, ",")[0])
	if err != nil {
		return fallback
	}
	return float64(n)
}

// EstimateColumnLength guesses the bytes one row spends on a column of the
// given type, e.g. "int", "varchar(255)", "text".
func EstimateColumnLength(colType string) float64 {
	base, params := splitColType(colType)
	switch base {
	case "int", "integer", "float", "timestamp":
		return 4
	case "bigint", "double", "decimal", "datetime":
		return 8
	case "smallint":
		return 2
	case "tinyint":
		return 1
	case "mediumint", "date":
		return 3
	case "char":
		if params != "" {
			return typeParamLength(params, 1)
		}
		return 1
	case "varchar":
		if params != "" {
			// practical value, declared widths are rarely filled
			return typeParamLength(params, 2) / 2
		}
		return 1
	case "text", "blob":
		return 100
	case "":
		return 0
	default:
		return 50
	}
}

// EstimateIndexKeyLength guesses the bytes a column occupies as an index
// key. Variable-length fields count as prefix keys capped at 255 bytes.
func EstimateIndexKeyLength(colType string) float64 {
	base, params := splitColType(colType)
	switch base {
	case "varchar":
		if params != "" {
			return math.Min(typeParamLength(params, 2), 255) / 2
		}
		return 1
	case "text", "blob":
		return 255.0 / 2
	case "":
		return 0
	default:
		return EstimateColumnLength(colType)
	}
}

// EstimateTotalIndexLength estimates the bytes used by all indexes of a
// table, averaging a direct record-length estimate with a page-count
// estimate.
func EstimateTotalIndexLength(tableRows int64, indexes []Index, columns []Column) float64 {
	var total float64
	for i := range indexes {
		idx := &indexes[i]

		var keyLength float64
		for c := range idx.Columns {
			name := idx.Columns[c].ResolveName()
			found := false
			for j := range columns {
				if strings.EqualFold(columns[j].Name, name) {
					keyLength += EstimateIndexKeyLength(columns[j].ColumnType)
					found = true
					break
				}
			}
			if !found {
				keyLength += 50
			}
		}

		recordLength := keyLength + indexEntryOverhead
		if idx.Type != IndexPrimary {
			// secondary index records carry the primary key reference
			recordLength += primaryKeyRefLength
		}

		byRecordLength := float64(tableRows) * recordLength * fillFactorMult

		effectiveRecordSize := recordLength + pointerSize
		recordsPerPage := float64(tableRows)
		if effectiveRecordSize > 0 {
			recordsPerPage = indexPageSize * pageFillRatio / effectiveRecordSize
		}
		var numPages float64
		if recordsPerPage > 0 {
			numPages = math.Ceil(float64(tableRows) / recordsPerPage)
		}
		byPages := numPages * indexPageSize

		total += 0.5*byRecordLength + 0.5*byPages
	}
	return total
}

// SizeEstimate is the outcome of EstimateDataLength.
type SizeEstimate struct {
	AvgRowLength     int64
	IndexLength      int64
	DataLengthByRows int64
	DataLengthBySize int64
	DataLength       int64
	DataFree         int64
}

// EstimateDataLength fills in data_length, index_length, avg_row_length and
// data_free from the table size, row count and schema. When an intermediate
// estimate goes non-positive the space is redistributed as 20% index,
// dataFreeCoefficient free, remainder data.
func EstimateDataLength(t *Table, considerDelete bool, dataFreeCoefficient float64) SizeEstimate {
	var baseRowLength float64
	for i := range t.Columns {
		baseRowLength += EstimateColumnLength(t.Columns[i].ColumnType)
	}
	avgRowLength := baseRowLength + rowOverhead
	if avgRowLength <= 0 {
		avgRowLength = 1
	}

	tableSize := float64(t.TableSize)
	byRows := float64(t.Rows) * avgRowLength

	indexLength := EstimateTotalIndexLength(t.Rows, t.Indexes, t.Columns)
	if indexLength <= 0 {
		// there is always at least the clustered index
		indexLength = math.Max(1, tableSize*0.1)
	}

	var dataFree float64
	if considerDelete {
		dataFree = dataFreeCoefficient * tableSize
	}
	if dataFree < 0 {
		dataFree = 0
	}

	bySize := tableSize - indexLength - dataFree
	if bySize <= 0 {
		indexLength = tableSize * 0.2
		dataFree = tableSize * dataFreeCoefficient
		bySize = tableSize - indexLength - dataFree
	}

	// row-based estimation is unreliable for variable-length and overflow
	// pages, weight it low
	combined := 0.1*byRows + 0.9*bySize
	if combined <= 0 {
		combined = bySize
	}

	return SizeEstimate{
		AvgRowLength:     int64(avgRowLength),
		IndexLength:      int64(indexLength),
		DataLengthByRows: int64(byRows),
		DataLengthBySize: int64(bySize),
		DataLength:       int64(combined),
		DataFree:         int64(dataFree),
	}
}
