package statistics

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/cache"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/metrics"
)

// Handler provides HTTP handlers for the dashboard statistics
type Handler struct {
	store Store
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// NewHandler creates a new statistics handler. Responses are cached for ttl;
// a zero ttl disables caching.
func NewHandler(store Store, c cache.Cache, ttl time.Duration, log *zap.Logger) *Handler {
	if c == nil {
		c = cache.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store: store,
		cache: c,
		ttl:   ttl,
		log:   log.Named("statistics"),
		now:   time.Now,
	}
}

// Routes registers the statistics routes. Callers mount it behind
// auth.Middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequirePsychologist)

	r.Get("/all-assessments", h.AllAssessments)
	r.Get("/riskLevelStatic", h.RiskLevels)
	r.Get("/timeEvaluatiomStatic", h.TimeSeries)
	r.Get("/carrerRiskStatics", h.CareerRisks)
	r.Get("/genderRiskStatics", h.GenderRisks)
	r.Get("/ageRiskLevelStatics", h.AgeRisks)
	r.Get("/questionsFrecuencyStatics", h.IdeationFrequency)
	r.Get("/questionsBehaviorFrecuencyStatics", h.BehaviorFrequency)
	r.Get("/psycologistEvaluations", h.PsychologistEvaluations)

	return r
}

// scope limits psychologists to their own assessments.
func scope(identity *auth.Identity) Filter {
	if identity.IsAdmin() {
		return Filter{}
	}
	return Filter{PsychologistID: &identity.ID}
}

// cached serves key from the cache or computes, caches and writes it.
func (h *Handler) cached(w http.ResponseWriter, r *http.Request, name string, compute func(ctx context.Context) (any, error)) {
	identity := auth.FromContext(r.Context())
	key := cacheKey(name, identity, r.URL.Query())

	if h.ttl > 0 {
		var raw any
		hit, err := h.cache.GetJSON(r.Context(), key, &raw)
		if err != nil {
			h.log.Warn("statistics cache read failed", zap.String("key", key), zap.Error(err))
		}
		metrics.RecordStatsCache(hit)
		if hit {
			httpx.WriteJSON(w, http.StatusOK, raw)
			return
		}
	}

	result, err := compute(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if h.ttl > 0 {
		if err := h.cache.SetJSON(r.Context(), key, result, h.ttl); err != nil {
			h.log.Warn("statistics cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func cacheKey(name string, identity *auth.Identity, query url.Values) string {
	who := "all"
	if !identity.IsAdmin() {
		who = identity.ID.String()
	}
	return assessment.StatsCachePrefix + name + ":" + who + ":" + query.Encode()
}

// AllAssessments returns the flattened assessments in a date range
func (h *Handler) AllAssessments(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	q := r.URL.Query()

	filter := scope(identity)
	psychologistID, err := httpx.QueryID(r, "psychologistId")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if psychologistID != nil {
		if !identity.IsAdmin() && *psychologistID != identity.ID {
			httpx.WriteError(w, errors.Forbidden("you can only view your own assessments"))
			return
		}
		filter.PsychologistID = psychologistID
	}

	from, to, err := ParseDateRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	filter.From, filter.To = &from, &to
	filter.Career = q.Get("career")
	filter.Gender = q.Get("gender")

	h.cached(w, r, "all-assessments", func(ctx context.Context) (any, error) {
		return h.store.Records(ctx, filter)
	})
}

// RiskLevels returns the ideation level distribution
func (h *Handler) RiskLevels(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, "risk-levels", func(records []Record) any { return RiskLevelCounts(records) })
}

// TimeSeries returns assessment counts per day, week, month or year
func (h *Handler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = TimeframeMonth
	}
	if !ValidTimeframe(timeframe) {
		httpx.WriteError(w, errors.Validation("invalid timeframe", map[string]string{
			"timeframe": "must be one of: day, week, month, year",
		}))
		return
	}
	h.aggregate(w, r, "time", func(records []Record) any { return TimeSeries(records, timeframe) })
}

func (h *Handler) CareerRisks(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, "career", func(records []Record) any { return CareerRisks(records) })
}

func (h *Handler) GenderRisks(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, "gender", func(records []Record) any { return GenderRisks(records) })
}

func (h *Handler) AgeRisks(w http.ResponseWriter, r *http.Request) {
	ageRange := r.URL.Query().Get("ageRange")
	h.aggregate(w, r, "age", func(records []Record) any { return AgeRisks(records, ageRange) })
}

func (h *Handler) IdeationFrequency(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, "ideation-frequency", func(records []Record) any {
		return []IdeationFrequency{IdeationFrequencies(records)}
	})
}

func (h *Handler) BehaviorFrequency(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, "behavior-frequency", func(records []Record) any {
		return []BehaviorFrequency{BehaviorFrequencies(records)}
	})
}

// PsychologistEvaluations counts assessments per psychologist since the
// start of the requested period
func (h *Handler) PsychologistEvaluations(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	filter := scope(identity)
	filter.From = PeriodStart(r.URL.Query().Get("period"), h.now())

	h.cached(w, r, "psychologists", func(ctx context.Context) (any, error) {
		records, err := h.store.Records(ctx, filter)
		if err != nil {
			return nil, err
		}
		return PsychologistCounts(records), nil
	})
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request, name string, fn func([]Record) any) {
	filter := scope(auth.FromContext(r.Context()))
	h.cached(w, r, name, func(ctx context.Context) (any, error) {
		records, err := h.store.Records(ctx, filter)
		if err != nil {
			return nil, err
		}
		return fn(records), nil
	})
}
