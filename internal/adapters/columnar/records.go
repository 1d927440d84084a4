//go:build !duckdb_arrow

package columnar

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/extensions"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/canonica-labs/meshgate/internal/adapters"
)

// batchSize is the number of rows per assembled record batch.
const batchSize = 1024

// records runs query through database/sql and assembles the rows into
// Arrow record batches.
func records(ctx context.Context, conn *sql.Conn, query string) (array.RecordReader, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("columnar adapter: failed to get column types: %w", err)
	}
	schema := schemaFor(types)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	var recs []arrow.Record
	release := func() {
		for _, r := range recs {
			r.Release()
		}
	}

	pending := 0
	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			release()
			return nil, fmt.Errorf("columnar adapter: failed to scan row: %w", err)
		}
		for i, v := range values {
			appendValue(b.Field(i), v)
		}
		pending++
		if pending == batchSize {
			recs = append(recs, b.NewRecord())
			pending = 0
		}
	}
	if err := rows.Err(); err != nil {
		release()
		return nil, err
	}
	if pending > 0 || len(recs) == 0 {
		recs = append(recs, b.NewRecord())
	}

	reader, err := array.NewRecordReader(schema, recs)
	// The reader retains every record it holds.
	release()
	if err != nil {
		return nil, err
	}
	return reader, nil
}

func schemaFor(types []*sql.ColumnType) *arrow.Schema {
	fields := make([]arrow.Field, len(types))
	for i, ct := range types {
		fields[i] = arrow.Field{Name: ct.Name(), Type: arrowType(ct.DatabaseTypeName()), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// jsonType carries nested values (LIST, STRUCT, MAP, UNION) as JSON text.
var jsonType, _ = extensions.NewJSONType(arrow.BinaryTypes.String)

func arrowType(dbType string) arrow.DataType {
	upper := strings.ToUpper(dbType)
	if nested(upper) {
		return jsonType
	}
	switch upper {
	case "BOOLEAN":
		return arrow.FixedWidthTypes.Boolean
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "UTINYINT", "USMALLINT", "UINTEGER":
		return arrow.PrimitiveTypes.Int64
	case "FLOAT", "DOUBLE", "REAL":
		return arrow.PrimitiveTypes.Float64
	}
	return arrow.BinaryTypes.String
}

func nested(dbType string) bool {
	if strings.HasSuffix(dbType, "]") {
		return true
	}
	for _, prefix := range []string{"STRUCT", "MAP", "LIST", "UNION", "JSON"} {
		if strings.HasPrefix(dbType, prefix) {
			return true
		}
	}
	return false
}

func appendValue(b array.Builder, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch fb := b.(type) {
	case *array.BooleanBuilder:
		if bv, ok := v.(bool); ok {
			fb.Append(bv)
			return
		}
	case *array.Int64Builder:
		if n, ok := toInt64(v); ok {
			fb.Append(n)
			return
		}
	case *array.Float64Builder:
		if f, ok := toFloat64(v); ok {
			fb.Append(f)
			return
		}
	case *array.StringBuilder:
		fb.Append(toString(v))
		return
	case *array.ExtensionBuilder:
		if sb, ok := fb.StorageBuilder().(*array.StringBuilder); ok {
			if raw, err := toJSON(v); err == nil {
				sb.Append(raw)
				return
			}
		}
	}
	b.AppendNull()
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	return 0, false
}

func toJSON(v any) (string, error) {
	switch s := v.(type) {
	case string:
		if json.Valid([]byte(s)) {
			return s, nil
		}
	case []byte:
		if json.Valid(s) {
			return string(s), nil
		}
	}
	raw, err := json.Marshal(adapters.NormalizeValue(v))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(adapters.NormalizeValue(v))
}
