package main

import (
	"context"
	"fmt"

	"github.com/vedran77/pulsedm/internal/config"
	"github.com/vedran77/pulsedm/internal/database"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/presence"
	"github.com/vedran77/pulsedm/internal/repository"
	postgresrepo "github.com/vedran77/pulsedm/internal/repository/postgres"
	sqliterepo "github.com/vedran77/pulsedm/internal/repository/sqlite"
	"github.com/vedran77/pulsedm/internal/service"
)

// store holds the repositories of whichever driver is configured.
type store struct {
	users    repository.UserRepository
	friends  repository.FriendRepository
	messages repository.MessageRepository
	convs    repository.ConversationRepository
	close    func()
}

// openStore connects to the configured database and brings its schema up to
// date.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (*store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logging.Info().Str("driver", cfg.Driver).Str("host", cfg.Host).Msg("connected to database")
		return &store{
			users:    postgresrepo.NewUserRepo(pool),
			friends:  postgresrepo.NewFriendRepo(pool),
			messages: postgresrepo.NewMessageRepo(pool),
			convs:    postgresrepo.NewConversationRepo(pool),
			close:    pool.Close,
		}, nil

	case "sqlite":
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		if err := sqliterepo.Migrate(db); err != nil {
			closeDB()
			return nil, err
		}
		logging.Info().Str("driver", cfg.Driver).Str("path", cfg.SQLitePath).Msg("opened database")
		return &store{
			users:    sqliterepo.NewUserRepo(db),
			friends:  sqliterepo.NewFriendRepo(db),
			messages: sqliterepo.NewMessageRepo(db),
			convs:    sqliterepo.NewConversationRepo(db),
			close:    closeDB,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

type services struct {
	messages  *service.MessageService
	convs     *service.ConversationService
	dm        *service.DMService
	reconcile *service.ReconcileService
	identity  *service.IdentityService
}

func newServices(cfg *config.Config, st *store) *services {
	messages := service.NewMessageService(st.messages, st.users, st.friends)
	convs := service.NewConversationService(st.convs)
	reconcile := service.NewReconcileService(st.friends, messages, convs)

	dm := service.NewDMService(messages, convs, st.users)
	dm.SetReconciler(reconcile, cfg.Reconcile.OnList)

	return &services{
		messages:  messages,
		convs:     convs,
		dm:        dm,
		reconcile: reconcile,
		identity:  service.NewIdentityService(st.users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
	}
}

// newRegistry guards the presence friend lookups with a circuit breaker and
// persists last-seen times to the user store.
func newRegistry(cfg *config.Config, st *store) *presence.Registry {
	friends := presence.NewBreakerFriends(st.friends, cfg.Presence.BreakerFailures, cfg.Presence.BreakerTimeout)
	registry := presence.NewRegistry(friends)
	registry.SetLastSeenStore(st.users)
	return registry
}
