package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/creditsync/api/responses"
	pkgAuth "github.com/angelmondragon/creditsync/pkg/auth"
	"github.com/angelmondragon/creditsync/pkg/config"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

const bearerPrefix = "bearer "

// Auth validates an operator bearer token and stores the Operator on the
// request context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing bearer token"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			op := Operator{ID: claims.OperatorID(), Role: claims.Role}
			if op.ID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token has no subject"))
				return
			}

			ctx := WithOperator(r.Context(), op)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"operator_id":   op.ID,
					"operator_role": op.Role.String(),
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) <= len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(raw[len(bearerPrefix):])
	return token, token != ""
}
