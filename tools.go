//go:build tools

package securitas

import (
	_ "go.uber.org/mock/mockgen"
)
