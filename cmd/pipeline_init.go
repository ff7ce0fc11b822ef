package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/credential"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/message"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/internal/store"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/apify"
	"github.com/sells-group/outreach-cli/pkg/gmail"
)

// pipelineEnv holds the store, provider clients, and services needed by the
// run and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
	Credentials  *credential.Manager
	Dispatcher   *dispatch.Dispatcher
	Resolver     *enrich.Resolver
	Messages     *message.Service
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens the store, and wires every
// collaborator. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	retry := resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)

	apifyClient := apify.NewClient(cfg.Apify.Token,
		apify.WithBaseURL(cfg.Apify.BaseURL),
		apify.WithRateLimit(cfg.Apify.RequestsPerSecond),
		apify.WithRetry(retry),
	)
	var poll []apify.PollOption
	if cfg.Apify.PollTimeoutSecs > 0 {
		poll = append(poll, apify.WithPollTimeout(time.Duration(cfg.Apify.PollTimeoutSecs)*time.Second))
	}
	scraper := scrape.NewChain(
		scrape.NewApifyJobs(apifyClient, cfg.Apify.JobsActor, scrape.NewHostMatcher(cfg.Apify.JobsHosts), poll...),
	)

	resolver := enrich.NewResolver(
		enrich.NewApifyLookup(apifyClient, cfg.Apify.ProfileActor),
		resilience.FromCircuitConfig(cfg.Enrich.BreakerThreshold, cfg.Enrich.BreakerResetSecs),
	)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithMaxRetries(retry.MaxAttempts-1))
	messages := message.NewService(anthropicClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)

	creds := credential.NewManager(st, newOAuthProvider(cfg.Google),
		credential.WithExpiryLeeway(time.Duration(cfg.Credential.ExpiryLeewaySecs)*time.Second),
		credential.WithRetry(retry),
	)

	var gmailOpts []gmail.Option
	if cfg.Google.GmailEndpoint != "" {
		gmailOpts = append(gmailOpts, gmail.WithEndpoint(cfg.Google.GmailEndpoint))
	}
	dispatcher := dispatch.New(creds, gmail.NewClient(gmailOpts...), st, st)

	orch := pipeline.NewOrchestrator(st, scraper, resolver, messages, dispatcher, pipeline.Options{
		DispatchCap: cfg.Pipeline.DispatchCap,
		SendDelay:   time.Duration(cfg.Pipeline.SendDelayMs) * time.Millisecond,
	})

	zap.L().Info("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("jobs_actor", cfg.Apify.JobsActor),
		zap.Strings("jobs_hosts", cfg.Apify.JobsHosts),
		zap.Int("dispatch_cap", cfg.Pipeline.DispatchCap),
	)

	return &pipelineEnv{
		Store:        st,
		Orchestrator: orch,
		Credentials:  creds,
		Dispatcher:   dispatcher,
		Resolver:     resolver,
		Messages:     messages,
	}, nil
}

func newOAuthProvider(g config.GoogleConfig) *credential.OAuthProvider {
	return credential.NewOAuthProvider(credential.OAuthConfig{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RedirectURL:  g.RedirectURL,
		Scopes:       g.Scopes,
		AuthURL:      g.AuthURL,
		TokenURL:     g.TokenURL,
		RevokeURL:    g.RevokeURL,
	})
}
