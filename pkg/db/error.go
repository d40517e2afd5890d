package db

import (
	"errors"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique constraint
// violation. Every connection in this module opens with
// TranslateError, so the dialect-specific errors arrive already
// normalized to gorm.ErrDuplicatedKey.
func IsDuplicateKeyErr(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
