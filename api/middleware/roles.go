package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/creditsync/api/responses"
	"github.com/angelmondragon/creditsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

// RequireRole admits requests whose operator holds any of roles. It must run
// after Auth.
func RequireRole(logg *logger.Logger, roles ...enums.OperatorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := OperatorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !slices.Contains(roles, op.Role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operator role not permitted").
					WithDetails(map[string]any{"role": op.Role.String()}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
