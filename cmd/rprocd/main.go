package main

import (
	"flag"
	"os"

	"github.com/danmuck/rprocctl/internal/config"
	"github.com/danmuck/rprocctl/internal/observability"
	"github.com/danmuck/rprocctl/internal/rproc"
	"github.com/danmuck/rprocctl/internal/server"
)

func main() {
	configPath := flag.String("config", "rprocd.toml", "path to daemon config")
	flag.Parse()

	logger := observability.InitLogger("rprocd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Str("path", *configPath).Msg("load config")
		os.Exit(1)
	}

	reg := rproc.NewRegistry(logger)
	ctl := rproc.NewController(reg, rproc.ControllerConfig{
		Source:          rproc.DirSource{Dir: cfg.FirmwareDir},
		Mapper:          loopbackMapper{log: logger},
		Allocator:       newRegionAllocator(allocatorBase, logger),
		StrictResources: cfg.StrictResources,
		Logger:          logger,
	})

	for _, p := range cfg.Processors {
		err := reg.Register(rproc.Registration{
			Device:     p.Device,
			Name:       p.Name,
			Capability: &loopbackCapability{name: p.Name, log: logger},
			Firmware:   p.Firmware,
			MemoryMap:  memoryMap(p.MemoryMap),
			Owner:      p.Owner,
			BootAddr:   p.BootAddr,
		})
		if err != nil {
			logger.Error().Err(err).Str("processor", p.Name).Msg("register processor")
			os.Exit(1)
		}
	}

	srv := server.New(server.Config{
		Name:        cfg.Name,
		Registry:    reg,
		Controller:  ctl,
		Logger:      logger,
		CorsOrigins: cfg.CorsOrigins,
	})
	if err := srv.Run(cfg.Addr); err != nil {
		logger.Error().Err(err).Msg("status api exited")
		os.Exit(1)
	}
}

func memoryMap(entries []config.MemoryMapConfig) []rproc.MemEntry {
	out := make([]rproc.MemEntry, 0, len(entries))
	for _, m := range entries {
		out = append(out, rproc.MemEntry{DA: m.DA, PA: m.PA, Size: m.Size})
	}
	return out
}
