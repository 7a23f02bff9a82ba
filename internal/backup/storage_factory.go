package backup

import (
	"context"
	"fmt"
)

// NewOffsiteStore creates the store selected by the offsite
// configuration. Returns nil without error when replication is not
// configured.
func NewOffsiteStore(ctx context.Context, cfg OffsiteConfig) (OffsiteStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case OffsiteNone:
		return nil, nil
	case OffsiteLocal:
		return NewLocalOffsiteStore(cfg.Path)
	case OffsiteS3:
		return NewS3OffsiteStore(cfg)
	case OffsiteGCS:
		return NewGCSOffsiteStore(ctx, cfg)
	case OffsiteAzure:
		return NewAzureOffsiteStore(cfg)
	default:
		return nil, NewValidationError(
			fmt.Sprintf("unsupported offsite provider: %s", cfg.Provider), nil)
	}
}
