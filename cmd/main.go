package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	backend "github.com/redis/go-redis/v9"

	"sdr-agent/handler"
	"sdr-agent/internal/agents"
	settings "sdr-agent/internal/config"
	"sdr-agent/internal/fsm"
	"sdr-agent/internal/guardrails"
	"sdr-agent/internal/integrations/openai"
	"sdr-agent/internal/integrations/paramstore"
	"sdr-agent/internal/integrations/redislock"
	"sdr-agent/internal/integrations/whatsapp"
	"sdr-agent/internal/logging"
	"sdr-agent/internal/metrics"
	"sdr-agent/internal/pipeline"
	"sdr-agent/internal/repository"
	"sdr-agent/internal/scheduling"
	"sdr-agent/internal/session"
	"sdr-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	paramPrefix := strings.TrimRight(mustEnv("PARAM_PREFIX"), "/")
	backendKind := envString("CHECKPOINT_BACKEND", "dynamodb")
	redisAddr := os.Getenv("REDIS_ADDR")
	phoneID := mustEnv("WHATSAPP_PHONE_ID")
	logger := logging.New(logging.ParseLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}

	conf, err := settings.Load(ctx, params, paramPrefix+"/config/settings")
	if err != nil {
		fatal("failed to load settings", err)
	}
	loc, err := conf.Location()
	if err != nil {
		fatal("invalid timezone", err)
	}

	// ---- Secrets ----
	llmToken := mustTokenSource(params, paramPrefix+"/llm-token")
	waToken := mustTokenSource(params, paramPrefix+"/whatsapp-token")
	verifyToken := mustTokenSource(params, paramPrefix+"/whatsapp-verify-token")

	// ---- Clients ----
	llm, err := openai.NewClient(llmToken, openai.WithBaseURL(os.Getenv("LLM_BASE_URL")))
	if err != nil {
		fatal("failed to create LLM client", err)
	}
	wa, err := whatsapp.NewClient(waToken, phoneID,
		whatsapp.WithRateLimit(float64(envInt("WHATSAPP_SEND_RPS", 20)), 5),
	)
	if err != nil {
		fatal("failed to create WhatsApp client", err)
	}

	var redisClient *backend.Client
	if redisAddr != "" {
		redisClient = backend.NewClient(&backend.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
	}

	var store pipeline.Checkpointer
	switch backendKind {
	case "dynamodb":
		store, err = repository.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), mustEnv("STATE_TABLE"))
	case "redis":
		store, err = repository.NewRedisStore(redisClient)
	case "memory":
		store = repository.NewMemoryStore()
	default:
		fatal("unknown CHECKPOINT_BACKEND", nil, "backend", backendKind)
	}
	if err != nil {
		fatal("failed to create checkpoint store", err, "backend", backendKind)
	}

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if redisClient != nil {
		locker, err := redislock.New(redisClient)
		if err != nil {
			fatal("failed to create redis locker", err)
		}
		sessionOpts = append(sessionOpts, session.WithLocker(locker))
	}
	sessions := session.NewManager(sessionOpts...)

	// ---- Agents and pipeline ----
	profile := agents.Profile{
		CompanyName:         conf.Company.Name,
		Model:               conf.LLM.Model,
		ConsultationMinutes: conf.Company.ConsultationMinutes,
		TimezoneLabel:       conf.Company.TimezoneLabel,
	}
	classifier, err := agents.NewClassifier(llm, profile)
	if err != nil {
		fatal("failed to create classifier", err)
	}
	extractor, err := agents.NewExtractor(llm, profile)
	if err != nil {
		fatal("failed to create extractor", err)
	}
	qualifier, err := agents.NewQualifier(llm, profile)
	if err != nil {
		fatal("failed to create qualifier", err)
	}
	responder, err := agents.NewResponder(llm, profile)
	if err != nil {
		fatal("failed to create responder", err)
	}
	calendar, err := scheduling.NewMockCalendar(loc)
	if err != nil {
		fatal("failed to create calendar", err)
	}

	recorder := metrics.NewRecorder("sdr")
	if err := recorder.TrackActiveSessions(sessions.Active); err != nil {
		fatal("failed to register session gauge", err)
	}
	engine, err := pipeline.NewEngine(pipeline.Dependencies{
		Classifier: classifier,
		Extractor:  extractor,
		Qualifier:  qualifier,
		Responder:  responder,
		Slots:      calendar,
		Store:      store,
	},
		pipeline.WithResolver(fsm.NewResolver(conf.Scoring.CloseThreshold, conf.Scoring.NurtureThreshold)),
		pipeline.WithObjectives(conf.StateObjectives(), conf.DefaultObjective),
		pipeline.WithWindows(conf.Conversation.ClassifierWindow, conf.Conversation.ReplyWindow),
		pipeline.WithSlotDaysAhead(conf.Conversation.SlotDaysAhead),
		pipeline.WithObserver(recorder),
	)
	if err != nil {
		fatal("failed to create pipeline", err)
	}

	guardOpts := []guardrails.Option{guardrails.WithLogger(logger)}
	if conf.LLM.Moderation {
		guardOpts = append(guardOpts, guardrails.WithModerator(llm))
	}

	turns, err := usecase.NewTurnService(engine, store, sessions,
		usecase.WithGuard(guardrails.NewGuard(guardOpts...)),
		usecase.WithRecorder(recorder),
		usecase.WithLogger(logger),
		usecase.WithHistoryLimit(envInt("HISTORY_LIMIT", conf.Conversation.HistoryLimit)),
		usecase.WithFallbackReply(conf.Conversation.FallbackReply),
	)
	if err != nil {
		fatal("failed to create turn service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(turns,
		handler.WithMessenger(wa),
		handler.WithVerifyToken(verifyToken),
		handler.WithMetrics(recorder),
		handler.WithLogger(logger),
		handler.WithTestEndpoint(envBool("ENABLE_TEST_ENDPOINT", false)),
	)
	if err != nil {
		fatal("failed to create handler", err)
	}

	logger.Info("sdr agent ready", "backend", backendKind, "distributed_lock", redisClient != nil)
	lambda.Start(h.Handle)
}

func mustTokenSource(getter paramstore.Getter, name string) *paramstore.TokenSource {
	ts, err := paramstore.NewTokenSource(getter, name)
	if err != nil {
		fatal("failed to create token source", err, "param", name)
	}
	return ts
}

func fatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "err", err)
	}
	slog.Error(msg, args...)
	os.Exit(1)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.ToLower(v)
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
