package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	providerdomain "github.com/smallbiznis/waplink/internal/provider/domain"
	"github.com/smallbiznis/waplink/internal/session/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Session{}))
	return db
}

func seedSession(t *testing.T, db *gorm.DB, name string, tenantID snowflake.ID) *domain.Session {
	t.Helper()
	session := &domain.Session{
		Name:        name,
		DisplayName: "Seed " + name,
		Provider:    "waha",
		Status:      providerdomain.StatusStopped,
		TenantID:    tenantID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func TestMergeUpdatesOnlyNamedColumns(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	session := seedSession(t, db, "acme-1", snowflake.ID(1))
	session.ExternalToken = "bearer-abc"
	require.NoError(t, db.Save(session).Error)

	status := providerdomain.StatusConnected
	ok, err := r.Merge(ctx, db, "acme-1", domain.Patch{
		Status:   &status,
		Identity: &providerdomain.Identity{ID: "6281234@c.us", PushName: "Acme"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.FindByName(ctx, db, "acme-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, providerdomain.StatusConnected, got.Status)
	assert.Equal(t, "6281234@c.us", got.MeID)
	assert.Equal(t, "bearer-abc", got.ExternalToken, "token must survive a patch that omits it")
}

func TestMergeClearsPairingExplicitly(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	session := seedSession(t, db, "acme-2", snowflake.ID(1))
	expires := time.Now().UTC().Add(5 * time.Minute)
	session.PairingData = "data:image/png;base64,iVBOR"
	session.PairingExpiresAt = &expires
	require.NoError(t, db.Save(session).Error)

	ok, err := r.Merge(ctx, db, "acme-2", domain.Patch{ClearPairing: true})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.FindByName(ctx, db, "acme-2")
	require.NoError(t, err)
	assert.Empty(t, got.PairingData)
	assert.Nil(t, got.PairingExpiresAt)
}

func TestMergeMissingSession(t *testing.T) {
	db := setupDB(t)
	r := Provide()

	status := providerdomain.StatusFailed
	ok, err := r.Merge(context.Background(), db, "ghost", domain.Patch{Status: &status})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTenantScoping(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	seedSession(t, db, "a-1", snowflake.ID(10))
	seedSession(t, db, "a-2", snowflake.ID(10))
	seedSession(t, db, "b-1", snowflake.ID(20))

	mine, err := r.ListByTenant(ctx, db, snowflake.ID(10))
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := r.ListAll(ctx, db)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	count, err := r.CountByTenant(ctx, db, snowflake.ID(20))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestExistsDisplayNamePerTenant(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	seedSession(t, db, "a-1", snowflake.ID(10))

	exists, err := r.ExistsDisplayName(ctx, db, snowflake.ID(10), "Seed a-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = r.ExistsDisplayName(ctx, db, snowflake.ID(20), "Seed a-1")
	require.NoError(t, err)
	assert.False(t, exists, "display names are scoped per tenant")
}
