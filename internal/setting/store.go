package setting

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/setting/entity"
)

// Store persists overrides. Get returns sql.ErrNoRows when the key is unset.
type Store interface {
	List(ctx context.Context, category string) ([]*entity.Setting, error)
	Get(ctx context.Context, key string) (*entity.Setting, error)
	Insert(ctx context.Context, s *entity.Setting) error
	// Update writes s when the stored version equals expected and reports
	// the number of rows changed.
	Update(ctx context.Context, s *entity.Setting, expected int64) (int64, error)
	Delete(ctx context.Context, key string) (int64, error)
}
