//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers sqlite-vec (vec_distance_cosine, vec0) with mattn/go-sqlite3.
	vec.Auto()
}
