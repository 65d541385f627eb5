package entity

import (
	"fmt"

	"github.com/vadim/neo-social/internal/apperr"
)

var (
	ErrUserNotFound    = fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	ErrInactiveAccount = fmt.Errorf("%w: account is inactive", apperr.ErrUnauthenticated)
	ErrNoIdentity      = fmt.Errorf("%w: no verified identity", apperr.ErrUnauthenticated)
)
