// Command gateway runs the translating API gateway: an Anthropic
// Messages-compatible HTTP surface backed by AWS Bedrock, with an embedded
// Programmatic Tool Calling orchestrator for sandboxed code execution.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"goa.design/bedrock-gateway/internal/backend"
	"goa.design/bedrock-gateway/internal/config"
	"goa.design/bedrock-gateway/internal/convert"
	"goa.design/bedrock-gateway/internal/gatewayhttp"
	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/ptc"
	"goa.design/bedrock-gateway/internal/ratelimit"
	"goa.design/bedrock-gateway/internal/sandbox"
	"goa.design/bedrock-gateway/internal/store"
	"goa.design/bedrock-gateway/internal/telemetry"
)

func main() {
	dbgF := flag.Bool("debug", false, "Enable debug-level logging")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, err)
	}
	tel := telemetry.New()

	srv, err := buildServer(ctx, cfg, tel)
	if err != nil {
		log.Fatal(ctx, err)
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		sandbox.RunSweeper(ctx, srv.Sandbox, srv.Sandbox.(*sandbox.DockerExecutor).Sessions(), 30*time.Second, tel)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Orchestrator.RunSweeper(ctx, 30*time.Second)
	}()

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Timeouts.BackendConnect,
		WriteTimeout: cfg.Timeouts.StreamDeadline,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	wg.Wait()
	log.Printf(ctx, "exited")
}

// buildServer wires every collaborator package into a gatewayhttp.Server.
func buildServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*gatewayhttp.Server, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	catalog := backend.NewCatalog(bedrock.NewFromConfig(awsCfg))

	backendClient, err := backend.New(backend.Options{
		Runtime:             runtime,
		SemaphoreSize:       cfg.Concurrency.SemaphoreSize,
		ServiceTierFallback: map[string]string{"priority": "default"},
		Telemetry:           tel,
	})
	if err != nil {
		return nil, fmt.Errorf("build backend client: %w", err)
	}

	var cluster *rmap.Map
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		cluster, err = rmap.Join(ctx, "bedrock-gateway-ratelimit", rdb)
		if err != nil {
			return nil, fmt.Errorf("join rate-limit cluster map: %w", err)
		}
	}
	limiters := ratelimit.NewRegistry(ratelimit.Options{
		Cluster:    cluster,
		InitialTPM: 40_000,
		MaxTPM:     400_000,
	})

	sbx, err := sandbox.NewDockerExecutor(sandbox.DockerConfig{
		Image:            cfg.PTC.SandboxImage,
		MemoryLimitBytes: cfg.PTC.MemoryLimitMB * 1024 * 1024,
		NetworkDisabled:  cfg.PTC.NetworkDisabled,
		SessionTimeout:   cfg.PTC.SessionTimeout,
		ExecutionTimeout: cfg.PTC.ExecutionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build sandbox executor: %w", err)
	}
	if cfg.PTC.Enabled {
		if err := sbx.EnsureImageAvailable(ctx); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "sandbox image not available at startup, PTC requests will fail until it is pulled"})
		}
	}

	orchestrator := ptc.New(ptc.Options{
		Backend:        backendClient,
		Resolver:       convert.ModelResolver{Defaults: cfg.ModelMappingDefaults},
		BetaTables:     protocol.DefaultBetaTables(),
		Sandbox:        sbx,
		SessionTimeout: cfg.PTC.SessionTimeout,
		Telemetry:      tel,
	})

	ddb, err := store.NewClient(ctx, cfg.AWS.Region, cfg.DynamoDB.Endpoint, store.Tables{
		APIKeys:      cfg.DynamoDB.APIKeysTable,
		Usage:        cfg.DynamoDB.UsageTable,
		ModelMapping: cfg.DynamoDB.ModelMappingTable,
		ModelPricing: cfg.DynamoDB.ModelPricingTable,
		UsageStats:   cfg.DynamoDB.UsageStatsTable,
	}, tel)
	if err != nil {
		return nil, fmt.Errorf("build dynamodb client: %w", err)
	}

	return gatewayhttp.New(gatewayhttp.Server{
		Config:       cfg,
		Backend:      backendClient,
		Catalog:      catalog,
		BetaTables:   protocol.DefaultBetaTables(),
		Orchestrator: orchestrator,
		Sandbox:      sbx,
		APIKeys:      store.NewAPIKeyStore(ddb),
		Usage:        store.NewUsageStore(ddb, cfg.Usage.TTLDays),
		UsageStats:   store.NewUsageStatsStore(ddb),
		Pricing:      store.NewPricingStore(ddb),
		ModelMap:     store.NewModelMappingStore(ddb),
		Limiters:     limiters,
		Telemetry:    tel,
	}), nil
}
