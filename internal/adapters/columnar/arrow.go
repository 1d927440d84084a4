//go:build duckdb_arrow

package columnar

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/marcboeker/go-duckdb"
)

// records runs query through DuckDB's native Arrow interface on conn.
func records(ctx context.Context, conn *sql.Conn, query string) (array.RecordReader, error) {
	var reader array.RecordReader
	err := conn.Raw(func(raw any) error {
		dc, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("columnar adapter: unexpected driver connection %T", raw)
		}
		ar, err := duckdb.NewArrowFromConn(dc)
		if err != nil {
			return err
		}
		reader, err = ar.QueryContext(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reader, nil
}
