package ports

import (
	"context"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

// FeedLoader fetches a discovery file and every feed it lists. Fetch
// failures are reported per file, not as an error.
type FeedLoader interface {
	Load(ctx context.Context, discoveryURL string) ([]domain.LoadedFile, error)
}
