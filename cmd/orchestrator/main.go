/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/hackdesk/orchestrator/pkg/apiserver"
	"github.com/hackdesk/orchestrator/pkg/auth"
	"github.com/hackdesk/orchestrator/pkg/controllers/reconciliation"
	"github.com/hackdesk/orchestrator/pkg/controllers/session"
	"github.com/hackdesk/orchestrator/pkg/logging"
	"github.com/hackdesk/orchestrator/pkg/notify"
	"github.com/hackdesk/orchestrator/pkg/operator/options"
	"github.com/hackdesk/orchestrator/pkg/providers/gateway"
	"github.com/hackdesk/orchestrator/pkg/providers/instance"
	"github.com/hackdesk/orchestrator/pkg/providers/pool"
	"github.com/hackdesk/orchestrator/pkg/providers/scaling"
	"github.com/hackdesk/orchestrator/pkg/providers/usage"
	"github.com/hackdesk/orchestrator/pkg/state"
)

func main() {
	opts := options.New().MustParse()
	logger := logging.NewLogger(opts.Development)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	var cfgOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg := lo.Must(awsconfig.LoadDefaultConfig(ctx, cfgOpts...))
	clk := clock.RealClock{}

	store := state.NewDynamoStore(dynamodb.NewFromConfig(cfg), state.DynamoConfig{
		SessionsTable:     opts.SessionsTable,
		InstancePoolTable: opts.InstancePoolTable,
		UsageTable:        opts.UsageTable,
		ConnectionsTable:  opts.ConnectionsTable,
	}, clk)

	instanceProvider := instance.NewDefaultProvider(ec2.NewFromConfig(cfg))
	scalingProvider := scaling.NewDefaultProvider(autoscaling.NewFromConfig(cfg))
	gatewayProvider := gateway.NewDefaultProvider(gateway.Config{
		PublicURL:   opts.GatewayURL,
		InternalURL: opts.GatewayInternalURL,
		DataSource:  opts.GatewayDataSource,
		AdminUser:   opts.GatewayAdminUser,
		AdminPass:   opts.GatewayAdminPass,
	})
	usageProvider := usage.NewDefaultProvider(store.Usage, clk)
	poolProvider := pool.NewDefaultProvider(store.Pool, store.Sessions, instanceProvider,
		scalingProvider, opts.TierGroups(), clk)
	verifier := auth.NewVerifier(opts.PortalWebhookSecret, clk)

	var notifier *notify.Publisher
	if opts.WebsocketAPIEndpoint != "" && opts.ConnectionsTable != "" {
		management := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
			o.BaseEndpoint = aws.String(opts.WebsocketAPIEndpoint)
		})
		notifier = notify.NewPublisher(management, store.Subscribers)
		logger.Infow("push notifications enabled", "endpoint", opts.WebsocketAPIEndpoint)
	}

	sessions := session.NewController(opts, store, instanceProvider, poolProvider,
		gatewayProvider, usageProvider, verifier, notifier, clk)
	reconciler := reconciliation.NewController(opts, store, instanceProvider,
		scalingProvider, gatewayProvider, poolProvider, sessions, clk)
	server := apiserver.NewServer(opts, sessions, usageProvider, verifier, logger, clk)

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go reconciler.Start(ctx)
	go func() {
		logger.Infow("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("metrics server failed", "error", err)
		}
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Fatalw("api server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("api server shutdown", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("metrics server shutdown", "error", err)
	}
}
