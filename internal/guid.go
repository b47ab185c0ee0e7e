package internal

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lychee-technology/strata"
	"github.com/oklog/ulid/v2"
)

// guidFunc produces a new entity guid.
type guidFunc func() (string, error)

func newGuidFunc(strategy string) (guidFunc, error) {
	switch strategy {
	case "", strata.GuidStrategyUUIDv7:
		return func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", fmt.Errorf("generate uuid: %w", err)
			}
			return id.String(), nil
		}, nil
	case strata.GuidStrategyULID:
		// ulid.Make is monotonic within a millisecond and safe for concurrent use.
		return func() (string, error) {
			return ulid.Make().String(), nil
		}, nil
	}
	return nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, fmt.Sprintf("unknown guid strategy %q", strategy))
}
