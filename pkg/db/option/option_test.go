package option

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/fiscalsync/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type item struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func TestApplyPagination(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&item{}))
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, db.Create(&item{ID: i, Name: "n"}).Error)
	}

	var first []item
	stmt := OrderBy("id", true).Apply(db.Model(&item{}))
	require.NoError(t, ApplyPagination(pagination.Pagination{PageSize: 2}).Apply(stmt).Find(&first).Error)
	require.Len(t, first, 3)
	assert.Equal(t, int64(5), first[0].ID)

	token, err := pagination.EncodeCursor(pagination.Cursor{ID: "4"})
	require.NoError(t, err)

	var next []item
	stmt = OrderBy("id", true).Apply(db.Model(&item{}))
	require.NoError(t, ApplyPagination(pagination.Pagination{PageSize: 2, PageToken: token}).Apply(stmt).Find(&next).Error)
	require.Len(t, next, 3)
	assert.Equal(t, int64(3), next[0].ID)
}
