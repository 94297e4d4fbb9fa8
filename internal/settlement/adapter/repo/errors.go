package repo

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// translate 把 gorm 错误映射到领域错误 (依赖 gorm.Config.TranslateError)
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.Duplicate("%s violates a unique settlement constraint", what)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%s: %w", what, domain.ErrRecordInUse)
	}
	return err
}

// lockFor 事务内读加行锁；sqlite 不支持 FOR UPDATE，写事务本身已串行
func lockFor(db *gorm.DB, forUpdate bool) *gorm.DB {
	if forUpdate && db.Dialector.Name() != "sqlite" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}
