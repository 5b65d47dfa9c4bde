package model

import (
	"database/sql/driver"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Vector is an embedding column. It is encoded in pgvector text form ("[1,2,3]"),
// which is the native vector type on Postgres and a plain text column elsewhere.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	return pgvector.NewVector([]float32(v)).Value()
}

func (v *Vector) Scan(src interface{}) error {
	var pv pgvector.Vector
	if err := pv.Scan(src); err != nil {
		return err
	}
	*v = Vector(pv.Slice())
	return nil
}

func (Vector) GormDataType() string {
	return "vector"
}

func (Vector) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "vector"
	case "mysql":
		return "longtext"
	default:
		return "text"
	}
}
