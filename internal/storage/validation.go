package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urlshield/urlshield/internal/common"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}
	return ctx.Err()
}

func validateString(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

// mapConstraintError converts SQLite uniqueness violations into the shared
// sentinel so callers don't depend on driver error strings.
func mapConstraintError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", common.ErrDuplicateEntry, err)
	}
	return err
}
