package models

import (
	"github.com/google/uuid"
)

// assignID gives rows a client-side UUID so inserts behave the same on Postgres
// and on the SQLite test schema, which has no gen_random_uuid().
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
