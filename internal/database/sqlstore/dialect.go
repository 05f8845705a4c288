// Package sqlstore implements database.Store on top of database/sql.
// Backends differ only in their Dialect: placeholder syntax, how duplicate
// rows are ignored, how vectors are stored and which errors are retryable.
package sqlstore

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-sorter/internal/database"
)

// PlaceholderStyle selects the bind parameter syntax of a driver.
type PlaceholderStyle int

const (
	// QuestionMark keeps the "?" placeholders the queries are written with.
	QuestionMark PlaceholderStyle = iota
	// Dollar rewrites placeholders to $1, $2, ... (PostgreSQL).
	Dollar
)

// IgnoreStyle selects how an insert that hits a unique constraint is turned
// into a no-op.
type IgnoreStyle int

const (
	// OnConflictDoNothing appends ON CONFLICT (...) DO NOTHING (SQLite, PostgreSQL).
	OnConflictDoNothing IgnoreStyle = iota
	// InsertIgnore uses INSERT IGNORE INTO (MySQL, MariaDB).
	InsertIgnore
)

// VectorDest receives a vector column during Scan.
type VectorDest interface {
	sql.Scanner
	Slice() []float32
}

// Dialect describes the backend specific parts of the SQL the store issues.
type Dialect struct {
	Name        string
	Placeholder PlaceholderStyle
	Ignore      IgnoreStyle

	// VectorValue converts a vector into a driver argument.
	// Defaults to the little-endian BLOB encoding.
	VectorValue func(v []float32) any
	// NewVectorDest returns a scan target for a vector column.
	NewVectorDest func() VectorDest
	// Retryable reports whether err is a transient contention error.
	Retryable func(err error) bool
}

// Rebind rewrites the "?" placeholders of query for the dialect.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder != Dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// InsertIgnoring builds an insert into table that silently skips rows
// violating the unique key formed by conflict.
func (d Dialect) InsertIgnoring(table string, columns []string, conflict ...string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	cols := strings.Join(columns, ", ")
	var q string
	switch d.Ignore {
	case InsertIgnore:
		q = fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, placeholders)
	default:
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			table, cols, placeholders, strings.Join(conflict, ", "))
	}
	return d.Rebind(q)
}

func (d Dialect) vectorValue(v []float32) any {
	if d.VectorValue != nil {
		return d.VectorValue(v)
	}
	return database.EncodeVector(v)
}

func (d Dialect) newVectorDest() VectorDest {
	if d.NewVectorDest != nil {
		return d.NewVectorDest()
	}
	return &BlobVector{}
}

func (d Dialect) retryable(err error) bool {
	if err == nil || d.Retryable == nil {
		return false
	}
	return d.Retryable(err)
}

// BlobVector scans a vector stored with database.EncodeVector.
type BlobVector struct {
	v []float32
}

// Scan implements sql.Scanner.
func (b *BlobVector) Scan(src any) error {
	var raw []byte
	switch s := src.(type) {
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	case nil:
		b.v = nil
		return nil
	default:
		return fmt.Errorf("unsupported vector column type %T", src)
	}
	v, err := database.DecodeVector(raw)
	if err != nil {
		return err
	}
	b.v = v
	return nil
}

// Slice returns the decoded vector.
func (b *BlobVector) Slice() []float32 {
	return b.v
}
