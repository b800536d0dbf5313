package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/fanout"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/gateway"
	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
)

// API expõe apostas, cash-out e consultas da rodada, além do WebSocket do jogo
type API struct {
	gw       *gateway.Gateway
	hub      *fanout.Hub
	gameType string
	log      *zap.Logger
	validate *validator.Validate
	idem     *cache.Cache
}

func NewAPI(gw *gateway.Gateway, hub *fanout.Hub, gameType string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		gw:       gw,
		hub:      hub,
		gameType: gameType,
		log:      log,
		validate: validator.New(),
		idem:     cache.New(IdempotencyTTL, 2*IdempotencyTTL),
	}
}

// Router retorna o roteador HTTP com os endpoints REST e o /ws
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	if a.hub != nil {
		r.Get("/ws", a.hub.Handler(a.gameType)) // stream da rodada
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/rounds/current", a.currentRound) // snapshot autoritativo
		r.Get("/rounds/{id}", a.getRound)        // registro da rodada
		r.Get("/house", a.house)                 // conta da casa do jogo

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/wallet", a.wallet)
			r.Get("/rounds/{id}/bet", a.myBet)
			r.With(idempotent(a.idem)).Post("/rounds/{id}/bets", a.placeBet)
			r.With(idempotent(a.idem)).Post("/rounds/{id}/cashout", a.cashOut)
		})
	})
	return r
}

func (a *API) placeBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if !a.decode(w, r, &req) {
		return
	}
	receipt, err := a.gw.PlaceBet(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"), req.AmountCents)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, receipt)
}

func (a *API) cashOut(w http.ResponseWriter, r *http.Request) {
	var req CashOutRequest
	if !a.decode(w, r, &req) {
		return
	}
	observed, err := decimal.NewFromString(req.Multiplier)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid multiplier"})
		return
	}
	receipt, err := a.gw.CashOut(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"), observed)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, receipt)
}

func (a *API) currentRound(w http.ResponseWriter, r *http.Request) {
	st, err := a.gw.Current(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, st)
}

func (a *API) getRound(w http.ResponseWriter, r *http.Request) {
	round, err := a.gw.Round(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, roundResponse(round))
}

func (a *API) myBet(w http.ResponseWriter, r *http.Request) {
	bet, err := a.gw.UserBet(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, betResponse(bet))
}

func (a *API) wallet(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	bal, err := a.gw.Balance(r.Context(), user)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, WalletResponse{UserID: user, BalanceCents: bal, Balance: money.FormatCents(bal)})
}

func (a *API) house(w http.ResponseWriter, r *http.Request) {
	h, err := a.gw.House(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, HouseResponse{
		GameType:         h.GameType,
		BalanceCents:     h.BalanceCents,
		TotalBetCents:    h.TotalBetCents,
		TotalPayoutCents: h.TotalPayoutCents,
		ProfitMargin:     h.ProfitMargin.String(),
	})
}

// decode lê e valida o corpo; em caso de erro já responde 400
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "bad json"})
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		msg := "invalid payload"
		if errors.As(err, &ve) && len(ve) > 0 {
			msg = "invalid field " + ve[0].Field() + ": " + ve[0].Tag()
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: msg})
		return false
	}
	return true
}

func statusFor(ge *gateway.Error) int {
	switch {
	case ge.Kind == gateway.KindRoundNotFound || ge.Kind == gateway.KindNoBet:
		return http.StatusNotFound
	case ge.Class == gateway.ClassConflict:
		return http.StatusConflict
	case ge.Class == gateway.ClassResource:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		a.log.Error("unexpected handler error", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "internal error"})
		return
	}
	status := statusFor(ge)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Error:     ge.Error(),
		Kind:      string(ge.Kind),
		Class:     string(ge.Class),
		Retryable: ge.Retryable(),
	})
}
