package middleware

import (
	"context"

	"github.com/angelmondragon/creditsync/pkg/enums"
)

// Operator is the authenticated caller of an admin route.
type Operator struct {
	ID   string
	Role enums.OperatorRole
}

type operatorKey struct{}

// WithOperator stores op on ctx.
func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// OperatorFromContext returns the operator set by Auth, if any.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}
