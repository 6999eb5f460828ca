package refresh

import (
	"context"
	"encoding/json"

	"github.com/SirClappington/corpsignal/internal/cache"
)

type ProfileAPI interface {
	GetProfile(ctx context.Context, corpID string) (json.RawMessage, error)
}

// Profiles serves corporate profiles through the cache that a successful
// refresh invalidates. Hand the same Reader to reconcile.New.
type Profiles struct {
	api    ProfileAPI
	reader *cache.Reader
}

func NewProfiles(api ProfileAPI, reader *cache.Reader) *Profiles {
	return &Profiles{api: api, reader: reader}
}

// Profile returns the profile of corpID and whether it came from the cache.
func (p *Profiles) Profile(ctx context.Context, corpID string) (json.RawMessage, bool, error) {
	b, hit, err := p.reader.Read(ctx, cache.Profile, corpID, func(ctx context.Context) ([]byte, error) {
		return p.api.GetProfile(ctx, corpID)
	})
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(b), hit, nil
}
