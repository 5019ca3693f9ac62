package main

import (
	"context"
	"time"

	"github.com/cppla/accesso/config"
	"github.com/cppla/accesso/models"
	"github.com/cppla/accesso/routes"
	"github.com/cppla/accesso/services"
	"github.com/cppla/accesso/storage"
	"github.com/cppla/accesso/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.All()...)

	store, err := storage.New(context.Background(), cfg)
	if err != nil {
		utils.Sugar.Fatalf("object store init failed: %v", err)
	}
	local, _ := store.(*storage.LocalStore)

	limits := services.LimitsFromConfig(cfg)

	var geo utils.GeoLookup
	if cfg.ClickGeoLookup {
		geo = utils.GetIPCountry
	}

	text := services.NewTextService(db, limits)
	files := services.NewFileService(db, store, limits, cfg.StorageKeyPrefix)
	links := services.NewLinkService(db, cfg.AppBaseURL, geo)
	sweeper := services.NewSweeper(db, store, utils.NewLocker(utils.GetRedis(), services.SweepLockKey, services.SweepLockTTL))

	r := routes.SetupRouter(cfg, routes.Services{
		Text:    text,
		Files:   files,
		Links:   links,
		Sweeper: sweeper,
		Local:   local,
	})

	scheduler, err := utils.StartCleanupSchedule(cfg.CleanupSchedule, func(ctx context.Context, now time.Time) {
		sweeper.Sweep(ctx, now)
	})
	if err != nil {
		utils.Sugar.Fatalf("invalid cleanup schedule %q: %v", cfg.CleanupSchedule, err)
	}

	stop := func() {
		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		files.Wait()
		links.Wait()
	}

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, stop); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
