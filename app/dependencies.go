package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tinyauth/tinyauth/config"
	"github.com/tinyauth/tinyauth/middleware"
	"github.com/tinyauth/tinyauth/repositories"
	"github.com/tinyauth/tinyauth/repositories/postgres"
	"github.com/tinyauth/tinyauth/services/audit"
	"github.com/tinyauth/tinyauth/services/authz"
	"github.com/tinyauth/tinyauth/token"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users           repositories.UserRepository
	ServiceAccounts repositories.ServiceAccountRepository
	Groups          repositories.GroupRepository
	Policies        repositories.PolicyRepository
	AuditLogs       repositories.AuditLogRepository
	TxManager       repositories.TransactionManager

	// Token issuance and session resolution
	Verifier token.PasswordVerifier
	Issuer   *token.Issuer
	Resolver *token.Resolver

	// Authorization
	Authz        *authz.Service
	InternalAuth *middleware.InternalAuthMiddleware

	// Audit
	AuditSink *audit.Service
	Recorder  *audit.Recorder

	// Request validation
	Validator *validator.Validate
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	deps.initAuthorization(cfg)

	if err := deps.initAudit(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit pipeline: %w", err)
	}

	deps.Validator = validator.New()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, factory and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := factory.InitAuditSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() error {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.ServiceAccounts = repos.ServiceAccounts
	d.Groups = repos.Groups
	d.Policies = repos.Policies
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

// initAuthorization wires token issuance, session resolution and the
// authorization service over the repositories.
func (d *Dependencies) initAuthorization(cfg *config.Config) {
	d.Verifier = token.NewBcryptVerifier()
	d.Issuer = token.NewIssuer(cfg.Token, d.Users, d.Verifier)
	d.Resolver = token.NewResolver(cfg.Token, d.Users)
	d.Authz = authz.NewService(cfg.Token, d.Resolver, d.Users, d.ServiceAccounts, d.Policies, d.Verifier, d.Logger)
	d.InternalAuth = middleware.NewInternalAuthMiddleware(d.Authz, d.Logger)

	d.Logger.Info("authorization service initialized",
		zap.String("service_arn", d.Authz.OwnARN()),
		zap.String("algorithm", cfg.Token.Algorithm))
}

// initAudit starts the async audit sink and builds the recorder over it.
func (d *Dependencies) initAudit() error {
	sink := audit.NewService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	if err := sink.Start(); err != nil {
		return err
	}

	d.AuditSink = sink
	d.Recorder = audit.NewRecorder(d.Logger, sink)

	d.Logger.Info("audit pipeline started")
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain pending audit entries before the database goes away.
	if d.AuditSink != nil {
		if err := d.AuditSink.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit sink: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
