package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/jordancrombie/nsim/internal/app/api/server"
	"github.com/jordancrombie/nsim/internal/app/service/endpoints"
	"github.com/jordancrombie/nsim/internal/app/service/engine"
	"github.com/jordancrombie/nsim/internal/app/service/expiry"
	"github.com/jordancrombie/nsim/internal/app/service/notification"
	"github.com/jordancrombie/nsim/internal/app/service/routing"
	"github.com/jordancrombie/nsim/internal/platform/db"
	"github.com/jordancrombie/nsim/internal/repository"
	"github.com/jordancrombie/nsim/pkg/config"
	"github.com/jordancrombie/nsim/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	repository.Module,
	routing.Module,
	notification.Module,
	engine.Module,
	endpoints.Module,
	expiry.Module,
	server.Module,
)
