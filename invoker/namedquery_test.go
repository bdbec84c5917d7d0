package invoker

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/appgate/model"
)

func TestNamedQuery(t *testing.T) {
	p, err := NamedQuery(
		"SELECT * FROM orders WHERE tenant_id = @tenant AND status = @status AND tenant_id = @tenant",
		pgx.NamedArgs{"tenant": "t1", "status": "open"},
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM orders WHERE tenant_id = $1 AND status = $2 AND tenant_id = $1", p.SQL)
	assert.Equal(t, []any{"t1", "open"}, p.Params)
	assert.Equal(t, model.KindPostgreSQL, p.Kind())
}

func TestNamedQuery_MissingArgBindsNull(t *testing.T) {
	p, err := NamedQuery("SELECT @a::int, @b::text", pgx.NamedArgs{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "SELECT $1::int, $2::text", p.SQL)
	assert.Equal(t, []any{1, nil}, p.Params)
}

func TestNamedQuery_NonScalarArg(t *testing.T) {
	_, err := NamedQuery("SELECT @at", pgx.NamedArgs{"at": time.Now()})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)
}
