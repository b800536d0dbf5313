package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/patrickmn/go-cache"
)

// HeaderUserID é preenchido pelo provedor de sessão na frente do serviço
const HeaderUserID = "X-User-Id"

// IdempotencyTTL é por quanto tempo uma resposta fica disponível para reenvio
const IdempotencyTTL = 10 * time.Minute

type ctxKey struct{}

// withCORS libera o front-end do jogo servido em outra origem
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderUserID+", Idempotency-Key")
		w.Header().Set("Access-Control-Expose-Headers", "Idempotent-Replayed, Retry-After")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

// requireUser exige a identidade da sessão
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(HeaderUserID)
		if user == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{Error: "missing " + HeaderUserID})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// idempotent devolve a primeira resposta de (usuário, rota, Idempotency-Key) a reenvios.
// Falhas 5xx não são guardadas: o cliente pode tentar de novo.
func idempotent(store *cache.Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ck := userFrom(r.Context()) + "|" + r.URL.Path + "|" + key
			if v, ok := store.Get(ck); ok {
				cr := v.(cachedResponse)
				for k, vals := range cr.header {
					w.Header()[k] = vals
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cr.status)
				_, _ = w.Write(cr.body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < http.StatusInternalServerError {
				store.Set(ck, cachedResponse{
					status: rec.status,
					header: w.Header().Clone(),
					body:   bytes.Clone(rec.body.Bytes()),
				}, cache.DefaultExpiration)
			}
		})
	}
}
