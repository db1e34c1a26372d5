package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const MaxFramesInFlight = 8

// Duration decodes TOML strings such as "30s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type ApplicationConfig struct {
	// The application name used in windowing.
	Name string `toml:"name"`
	// Window starting position.
	StartPosX uint32 `toml:"start_x"`
	StartPosY uint32 `toml:"start_y"`
	// Window starting size.
	StartWidth  uint32   `toml:"width"`
	StartHeight uint32   `toml:"height"`
	LogLevel    LogLevel `toml:"log_level"`
}

type RenderConfig struct {
	FramesInFlight int      `toml:"frames_in_flight"`
	OutputWidth    uint32   `toml:"output_width"`
	OutputHeight   uint32   `toml:"output_height"`
	WorkGroupSize  uint32   `toml:"work_group_size"`
	FenceTimeout   Duration `toml:"fence_timeout"`
	ShaderDir      string   `toml:"shader_dir"`
	WatchShaders   bool     `toml:"watch_shaders"`
	Validation     bool     `toml:"validation"`
}

type SceneConfig struct {
	MaxBounces      uint32     `toml:"max_bounces"`
	SamplesPerPixel uint32     `toml:"samples_per_pixel"`
	CameraPosition  [3]float32 `toml:"camera_position"`
	CameraTarget    [3]float32 `toml:"camera_target"`
	FovDegrees      float32    `toml:"fov_degrees"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Render      RenderConfig      `toml:"render"`
	Scene       SceneConfig       `toml:"scene"`
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:        "raypath",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
			LogLevel:    LogLevelInfo,
		},
		Render: RenderConfig{
			FramesInFlight: 2,
			OutputWidth:    512,
			OutputHeight:   512,
			WorkGroupSize:  16,
			FenceTimeout:   Duration{30 * time.Second},
			ShaderDir:      "assets/shaders/bin",
			WatchShaders:   true,
		},
		Scene: SceneConfig{
			MaxBounces:      8,
			SamplesPerPixel: 1,
			CameraPosition:  [3]float32{0, 2, 8},
			CameraTarget:    [3]float32{0, 1, 0},
			FovDegrees:      60,
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			LogWarn("config file `%s` not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	if err := ParseConfig(data, cfg); err != nil {
		return nil, fmt.Errorf("config `%s`: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes data into cfg and validates the result.
func ParseConfig(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error
	if !c.Application.LogLevel.Valid() {
		errs = append(errs, fmt.Errorf("application.log_level `%s` is not one of debug, info, warn, error", c.Application.LogLevel))
	}
	if c.Render.FramesInFlight < 1 || c.Render.FramesInFlight > MaxFramesInFlight {
		errs = append(errs, fmt.Errorf("render.frames_in_flight must be in [1, %d], got %d", MaxFramesInFlight, c.Render.FramesInFlight))
	}
	if c.Render.OutputWidth == 0 || c.Render.OutputHeight == 0 {
		errs = append(errs, fmt.Errorf("render.output extent must be non-zero, got %dx%d", c.Render.OutputWidth, c.Render.OutputHeight))
	}
	if c.Render.WorkGroupSize == 0 {
		errs = append(errs, errors.New("render.work_group_size must be positive"))
	}
	if c.Render.FenceTimeout.Duration <= 0 {
		errs = append(errs, errors.New("render.fence_timeout must be positive"))
	}
	if c.Scene.FovDegrees <= 0 || c.Scene.FovDegrees >= 180 {
		errs = append(errs, fmt.Errorf("scene.fov_degrees must be in (0, 180), got %f", c.Scene.FovDegrees))
	}
	return errors.Join(errs...)
}
