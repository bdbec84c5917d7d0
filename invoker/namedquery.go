package invoker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pitabwire/appgate/model"
)

// NamedQuery rewrites @name placeholders in sql into PostgreSQL positional
// parameters and returns the matching database payload. Names missing from
// args bind to NULL.
func NamedQuery(sql string, args pgx.NamedArgs) (model.DatabasePayload, error) {
	rewritten, params, err := args.RewriteQuery(context.Background(), nil, sql, nil)
	if err != nil {
		return model.DatabasePayload{}, fmt.Errorf("%w: rewrite named query: %v", model.ErrInvalidPayload, err)
	}
	p := model.NewDatabasePayload(rewritten, params...)
	if err := p.Validate(); err != nil {
		return model.DatabasePayload{}, err
	}
	return p, nil
}
