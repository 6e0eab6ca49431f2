package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/user"
)

func TestListQuery(t *testing.T) {
	q, args, err := listQuery(user.ListFilter{UserType: "faculty", Query: "ada", Limit: 20, Offset: 40}).ToSQL()
	require.NoError(t, err)

	assert.Contains(t, q, `FROM "users"`)
	assert.Contains(t, q, `"user_type" = $`)
	assert.Contains(t, q, `"username" ILIKE $`)
	assert.Contains(t, q, "LIMIT $")
	assert.Contains(t, q, "OFFSET $")
	assert.Contains(t, args, "faculty")
	assert.Contains(t, args, "%ada%")
}

func TestListQueryDefaults(t *testing.T) {
	q, args, err := listQuery(user.ListFilter{}).ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, q, "WHERE")
	assert.Contains(t, q, `ORDER BY "created_at" DESC`)
	assert.Empty(t, args)
}
