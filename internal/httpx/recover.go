package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Recover turns handler panics into a 500 JSON error body instead of a
// dropped connection. The stack goes to the log, not the client.
type Recover struct {
	Logger *zap.Logger
}

// Wrap returns next guarded by a recover.
func (rc Recover) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			rc.Logger.Error("handler panic",
				zap.Any("panic", v),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Stack("stack"),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprint(v)})
		}()
		next.ServeHTTP(w, r)
	})
}
