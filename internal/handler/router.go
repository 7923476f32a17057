package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/pitch-arena/backend/internal/handler/interview"
	personahandler "github.com/zhouzirui/pitch-arena/backend/internal/handler/persona"
	speechhandler "github.com/zhouzirui/pitch-arena/backend/internal/handler/speech"
	"github.com/zhouzirui/pitch-arena/backend/internal/metrics"
	"github.com/zhouzirui/pitch-arena/backend/internal/middleware"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	interviewsvc "github.com/zhouzirui/pitch-arena/backend/internal/service/interview"
	"github.com/zhouzirui/pitch-arena/backend/pkg/utils"
)

// Dependencies 是路由需要的服务集合。Transcriber/Synthesizer 为空时语音探测接口返回 503。
type Dependencies struct {
	Personas        persona.Store
	Interviews      *interviewsvc.Service
	Events          *interviewsvc.Broadcaster
	Transcriber     speechhandler.Transcriber
	Synthesizer     speechhandler.Synthesizer
	Metrics         *metrics.Recorder
	Logger          *zap.Logger
	AllowedOrigins  []string
	PreviewMaxChars int
}

// NewRouter 把 HTTP 路由挂接到各个服务。
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(deps.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		personahandler.New(deps.Personas).RegisterRoutes(api)

		interview.New(deps.Interviews, deps.Events,
			interview.WithPreviewMaxChars(deps.PreviewMaxChars),
			interview.WithLogger(deps.Logger),
		).RegisterRoutes(api)

		speechhandler.New(deps.Transcriber, deps.Synthesizer, deps.Personas, deps.Logger).RegisterRoutes(api)
	})

	return r
}
