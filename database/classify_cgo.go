//go:build cgo

package database

import (
	"errors"

	"github.com/mattn/go-sqlite3" // also registers "sqlite3"
)

func init() {
	classifiers = append(classifiers, func(err error) (bool, bool) {
		var liteErr sqlite3.Error
		if errors.As(err, &liteErr) {
			return liteErr.Code == sqlite3.ErrConstraint, true
		}
		return false, false
	})
}
