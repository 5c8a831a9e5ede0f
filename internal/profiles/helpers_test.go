package profiles

import (
	"testing"

	"gorm.io/gorm"

	"github.com/angelmondragon/lostfound-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lostfound-backend/pkg/db/models"
	"github.com/angelmondragon/lostfound-backend/pkg/enums"
)

type dbtestHandles struct {
	t    *testing.T
	conn *gorm.DB
}

func (h *dbtestHandles) user(handle string, role enums.ProfileRole) models.Profile {
	return dbtest.SeedUser(h.t, h.conn, handle, role)
}

func (h *dbtestHandles) count(table, where string, args ...any) int64 {
	return dbtest.Count(h.t, h.conn, table, where, args...)
}
