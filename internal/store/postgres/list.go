package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/perparb/internal/domain"
)

const defaultListLimit = 50

// listFilter renders the time window and pagination of opts against the
// timestamp column col, newest first. It returns the SQL tail and its
// arguments, numbered from $1.
func listFilter(col string, opts domain.ListOpts) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	b.WriteString(" WHERE TRUE")
	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= %s", col, arg(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= %s", col, arg(*opts.Until))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC LIMIT %s", col, arg(limit))
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", arg(opts.Offset))
	}
	return b.String(), args
}
