package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the rprocd daemon configuration.
type Config struct {
	Name            string            `toml:"name"`
	Addr            string            `toml:"addr"`
	FirmwareDir     string            `toml:"firmware_dir"`
	CorsOrigins     []string          `toml:"cors_origins"`
	StrictResources bool              `toml:"strict_resources"`
	Processors      []ProcessorConfig `toml:"processors"`
}

// ProcessorConfig declares one remote processor to register at boot.
type ProcessorConfig struct {
	Name      string            `toml:"name"`
	Device    string            `toml:"device"`
	Firmware  string            `toml:"firmware"`
	Owner     string            `toml:"owner"`
	BootAddr  uint64            `toml:"boot_addr"`
	MemoryMap []MemoryMapConfig `toml:"memory_map"`
}

// MemoryMapConfig is one da<->pa range of a processor's mapping table.
type MemoryMapConfig struct {
	DA   uint64 `toml:"da"`
	PA   uint64 `toml:"pa"`
	Size uint32 `toml:"size"`
}

func Load(path string) (Config, error) {
	var cfg Config
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "rprocd"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9200"
	}
	if cfg.FirmwareDir == "" {
		cfg.FirmwareDir = "firmware"
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	seen := make(map[string]bool, len(cfg.Processors))
	for i, p := range cfg.Processors {
		if p.Name == "" {
			return fmt.Errorf("config: processors[%d] missing name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate processor name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Device == "" {
			return fmt.Errorf("config: processor %q missing device", p.Name)
		}
		if p.Firmware == "" {
			return fmt.Errorf("config: processor %q missing firmware", p.Name)
		}
		for j, m := range p.MemoryMap {
			if m.Size == 0 {
				return fmt.Errorf("config: processor %q memory_map[%d] has zero size", p.Name, j)
			}
		}
	}
	return nil
}

func loadToml(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
