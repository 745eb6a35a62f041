package thread

import (
	"fmt"

	"github.com/hupe1980/speakmesh/core"
)

func validateMessage(msg core.Message) error {
	switch msg.Role {
	case core.RoleUser, core.RoleAssistant:
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", core.ErrInvalidInput, msg.Role)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrStoreUnavailable, op, err)
}
