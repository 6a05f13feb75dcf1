package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/maternify/backend/inference"
	"github.com/maternify/backend/reminders"
	"github.com/maternify/backend/repository"
	ws "github.com/maternify/backend/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all server dependencies
type Server struct {
	config *Config
	db     *gorm.DB
	rdb    *redis.Client

	repo        *repository.GORMRepository
	convs       *repository.ConversationRepository
	authService *AuthService
	wsHub       *ws.Hub
	models      *inference.Client
	searchIndex *SearchIndex
	audioCache  *AudioCache

	authEndpoints         *AuthEndpoints
	pregnancyEndpoints    *PregnancyEndpoints
	chatbotEndpoints      *ChatbotEndpoints
	imagingEndpoints      *ImagingEndpoints
	reportEndpoints       *ReportEndpoints
	nameEndpoints         *NameEndpoints
	storyEndpoints        *StoryEndpoints
	ttsEndpoints          *TTSEndpoints
	songEndpoints         *SongEndpoints
	omimEndpoints         *OMIMEndpoints
	searchEndpoints       *SearchEndpoints
	reminderEndpoints     *ReminderEndpoints
	gynecologistEndpoints *GynecologistEndpoints
	transcribeEndpoints   *TranscribeEndpoints
	websocketHandler      *WebSocketHandler
}

func NewServer(config *Config) *Server {
	return &Server{config: config}
}

// SetDatabase sets the database connection
func (s *Server) SetDatabase(db *gorm.DB) {
	s.db = db
	s.repo = repository.NewGORMRepository(db)
	s.convs = repository.NewConversationRepository(db)
}

// SetRedis sets the redis client backing chat history and the OMIM cache.
// Without it both fall back to process memory.
func (s *Server) SetRedis(rdb *redis.Client) {
	s.rdb = rdb
}

// InitializeServices builds every client and endpoint. Background work
// (websocket hub, search index, reindex schedule) stops with ctx.
func (s *Server) InitializeServices(ctx context.Context) error {
	if s.repo == nil {
		return errors.New("database not configured")
	}
	if s.config.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	cfg := s.config
	baseURL := cfg.Server.PublicBaseURL

	groq := NewGroqService(cfg.AI.GroqAPIKey, cfg.AI.GroqBaseURL)
	openai := NewOpenAIService(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL)
	gemini := NewGeminiService(cfg.AI.GeminiAPIKey)
	elevenLabs := NewElevenLabsService(cfg.AI.ElevenLabsKey, cfg.AI.ElevenLabsBaseURL, cfg.AI.ElevenLabsVoiceID)
	gtts := NewGTTSService(cfg.AI.GTTSBaseURL)
	s.models = inference.NewClient(cfg.Inference.URL)
	s.audioCache = NewAudioCache(cfg.Storage.CacheDir)

	var history HistoryStore
	if s.rdb != nil {
		history = NewRedisHistoryStore(s.rdb, cfg.Redis.ChatHistoryTTL)
	} else {
		slog.Warn("Redis not configured, keeping chat history in memory")
		history = NewMemoryHistoryStore(cfg.Redis.ChatHistoryTTL)
	}

	s.authService = NewAuthService(s.repo, cfg.JWT.Secret, cfg.IsProduction())
	s.authEndpoints = NewAuthEndpoints(s.authService, s.repo, cfg.Storage.StaticDir, baseURL)
	s.pregnancyEndpoints = NewPregnancyEndpoints(s.repo)

	chatbot := NewChatbotService(groq, history, s.convs)
	s.chatbotEndpoints = NewChatbotEndpoints(chatbot, s.convs, s.authService, cfg.IsProduction())

	s.imagingEndpoints = NewImagingEndpoints(s.models)
	s.reportEndpoints = NewReportEndpoints(gemini, cfg.Storage.StaticDir, baseURL)
	s.nameEndpoints = NewNameEndpoints(groq)
	s.storyEndpoints = NewStoryEndpoints(groq, openai, cfg.Storage.StaticDir, baseURL)
	s.ttsEndpoints = NewTTSEndpoints(NewSpeaker(elevenLabs, gtts, s.audioCache))
	s.songEndpoints = NewSongEndpoints(NewSunoService(cfg.AI.SunoBaseURL, cfg.AI.SunoAPIKey))
	s.omimEndpoints = NewOMIMEndpoints(NewOMIMService(cfg.AI.OMIMBaseURL, cfg.AI.OMIMAPIKey, s.rdb))
	s.reminderEndpoints = NewReminderEndpoints(reminders.NewExtractor(), s.repo, s.authService)
	s.transcribeEndpoints = NewTranscribeEndpoints(openai)

	s.wsHub = ws.NewHub()
	go s.wsHub.Run(ctx)
	chat := NewGynecologistService(s.repo, s.convs, s.wsHub, baseURL)
	s.gynecologistEndpoints = NewGynecologistEndpoints(chat)
	s.websocketHandler = NewWebSocketHandler(s.wsHub, chat, cfg.WebSocket.AllowedOrigins)

	s.searchIndex = NewSearchIndex(openai, cfg.Search.DataDir, cfg.Search.EnglishModel, cfg.Search.MultilingualModel)
	s.searchEndpoints = NewSearchEndpoints(s.searchIndex)
	if openai.Configured() {
		go func() {
			if err := s.searchIndex.Build(ctx); err != nil {
				slog.Error("Failed to build search index", "error", err)
			}
		}()
		if cfg.Search.ReindexCron != "" {
			if _, err := s.searchIndex.Schedule(ctx, cfg.Search.ReindexCron); err != nil {
				return err
			}
		}
	} else {
		slog.Warn("Semantic search disabled, no embedding provider configured")
	}

	if count, size, err := s.audioCache.Stats(); err == nil {
		slog.Info("Audio cache ready", "files", count, "size", humanize.Bytes(uint64(size)))
	}

	slog.Info("Services initialized")
	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.indexHandler)
	r.Get("/health", s.healthHandler)

	staticDir := s.config.Storage.StaticDir
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	s.transcribeEndpoints.RegisterRoutes(r)
	s.authEndpoints.RegisterRoutes(r)

	r.Route("/api", func(r chi.Router) {
		s.imagingEndpoints.RegisterRoutes(r)
		s.reportEndpoints.RegisterRoutes(r)
		s.chatbotEndpoints.RegisterRoutes(r)
		s.nameEndpoints.RegisterRoutes(r)
		s.storyEndpoints.RegisterRoutes(r)
		s.ttsEndpoints.RegisterRoutes(r)
		s.songEndpoints.RegisterRoutes(r)
		s.omimEndpoints.RegisterRoutes(r)
		s.searchEndpoints.RegisterRoutes(r)
		s.reminderEndpoints.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			s.pregnancyEndpoints.RegisterRoutes(r)
			s.gynecologistEndpoints.RegisterRoutes(r)
			r.Get("/ws", s.websocketHandler.ServeHTTP)
		})
	})

	return r
}

// Start serves until ctx is cancelled, then drains connections for up to
// five seconds.
func (s *Server) Start(ctx context.Context) error {
	for _, dir := range []string{"uploads", "reports", "stories"} {
		if err := os.MkdirAll(filepath.Join(s.config.Storage.StaticDir, dir), 0755); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              ":" + s.config.Server.Port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", s.config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server exited")
	return nil
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Maternify backend!"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"
	redisStatus := "not configured"

	if s.db != nil {
		if err := repository.Ping(r.Context(), s.db); err != nil {
			dbStatus = "down"
			status = "degraded"
		} else {
			dbStatus = "up"
		}
	}

	if s.rdb != nil {
		if err := s.rdb.Ping(r.Context()).Err(); err != nil {
			redisStatus = "down"
			status = "degraded"
		} else {
			redisStatus = "up"
		}
	}

	searchStatus := "loading"
	if s.searchIndex != nil && s.searchIndex.Loaded() {
		searchStatus = "loaded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"database": dbStatus,
		"redis":    redisStatus,
		"search":   searchStatus,
	})

	slog.Debug("Health check", "status", status, "database", dbStatus, "redis", redisStatus)
}
