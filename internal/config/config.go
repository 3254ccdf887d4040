package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pelletier/go-toml/v2"
)

const DefaultConfigFilename = "project.toml"

// ExecutionMode selects between remote collaborators and local fallbacks.
type ExecutionMode string

const (
	// ModeLive calls the remote text and image models.
	ModeLive ExecutionMode = "live"
	// ModeOffline plans heuristically and renders placeholder images.
	ModeOffline ExecutionMode = "offline"
)

type Config struct {
	Service      ServiceSettings      `toml:"service"`
	Illustration IllustrationSettings `toml:"illustration"`
	LLM          LLMSettings          `toml:"llm"`
	NATS         NATSSettings         `toml:"nats"`
}

type ServiceSettings struct {
	LogDir  string        `toml:"log_dir"`
	Workers int           `toml:"workers"`
	Mode    ExecutionMode `toml:"mode"`
}

type IllustrationSettings struct {
	MaxImages     int    `toml:"max_images"`
	DefaultWidth  int    `toml:"default_width"`
	DefaultHeight int    `toml:"default_height"`
	OutputSuffix  string `toml:"output_suffix"`
	AssetsDir     string `toml:"assets_dir"`
	HeroImage     bool   `toml:"hero_image"`
	StyleProfile  string `toml:"style_profile"`
	SkipExisting  bool   `toml:"skip_existing"`
	// CustomInstructions and Exclusions are passed to the remote planner.
	CustomInstructions string   `toml:"custom_instructions"`
	Exclusions         []string `toml:"exclusions"`
}

type LLMSettings struct {
	APIKeyEnvironmentVariable string   `toml:"api_key_variable"`
	TextModels                []string `toml:"text_models"`
	ImageModel                string   `toml:"image_model"`
	MaxRetries                int      `toml:"max_retries"`
	RetryDelaySeconds         int      `toml:"retry_delay_seconds"`
	TimeoutSeconds            int      `toml:"timeout_seconds"`
	Temperature               float64  `toml:"temperature"`
}

type NATSSettings struct {
	URL         string              `toml:"url"`
	DLQSubject  string              `toml:"dlq_subject"`
	Consumer    ConsumerSettings    `toml:"consumer"`
	Producer    ProducerSettings    `toml:"producer"`
	ObjectStore ObjectStoreSettings `toml:"object_store"`
}

type ConsumerSettings struct {
	Stream     string `toml:"stream"`
	Subject    string `toml:"subject"`
	Durable    string `toml:"durable"`
	MaxDeliver int    `toml:"max_deliver"`
}

type ProducerSettings struct {
	Stream  string `toml:"stream"`
	Subject string `toml:"subject"`
}

type ObjectStoreSettings struct {
	BlogBucket   string `toml:"blog_bucket"`
	AssetBucket  string `toml:"asset_bucket"`
	OutputBucket string `toml:"output_bucket"`
}

// Overrides carries command-line values that take precedence over the file.
type Overrides struct {
	MaxImages  *int
	HeroImage  *bool
	TextModel  string
	ImageModel string
	AssetsDir  string
	DryRun     bool
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Service: ServiceSettings{
			LogDir:  "logs",
			Workers: 2,
			Mode:    ModeLive,
		},
		Illustration: IllustrationSettings{
			MaxImages:     5,
			DefaultWidth:  1280,
			DefaultHeight: 720,
			OutputSuffix:  ".illustrated.md",
			StyleProfile:  "editorial",
			SkipExisting:  true,
		},
		LLM: LLMSettings{
			APIKeyEnvironmentVariable: "GEMINI_API_KEY",
			TextModels:                []string{"gemini-2.5-flash"},
			ImageModel:                "imagen-4.0-generate-001",
			MaxRetries:                3,
			RetryDelaySeconds:         2,
			TimeoutSeconds:            120,
			Temperature:               0.6,
		},
		NATS: NATSSettings{
			URL:        "nats://127.0.0.1:4222",
			DLQSubject: "blog.illustration.dlq",
			Consumer: ConsumerSettings{
				Stream:     "BLOG_JOBS",
				Subject:    "blog.submitted",
				Durable:    "blog-illustrator-workers",
				MaxDeliver: 5,
			},
			Producer: ProducerSettings{
				Stream:  "BLOG_JOBS",
				Subject: "blog.illustrated",
			},
			ObjectStore: ObjectStoreSettings{
				BlogBucket:   "BLOG_FILES",
				AssetBucket:  "BLOG_ASSETS",
				OutputBucket: "BLOG_ILLUSTRATED",
			},
		},
	}
}

// Load reads the TOML file over the defaults, applies environment overrides
// and validates the result. A missing file is not an error.
func Load(filePath string, loggerInstance *logger.Logger) (*Config, error) {
	if filePath == "" {
		filePath = DefaultConfigFilename
	}

	configuration := Default()

	configFile, err := os.Open(filepath.Clean(filePath))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if loggerInstance != nil {
			loggerInstance.Warnf("Config file '%s' not found, using defaults", filePath)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	default:
		defer func() {
			if closeErr := configFile.Close(); closeErr != nil && loggerInstance != nil {
				loggerInstance.Warnf("Failed to close config file: %v", closeErr)
			}
		}()

		decoder := toml.NewDecoder(configFile)
		if err := decoder.Decode(configuration); err != nil {
			return nil, fmt.Errorf("failed to decode TOML configuration: %w", err)
		}
	}

	if err := configuration.ApplyEnvironment(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return configuration, nil
}

// ApplyEnvironment honours DRY_RUN, TEXT_MODEL, IMAGE_MODEL and MAX_IMAGES.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool)) error {
	if value, ok := lookup("DRY_RUN"); ok && isTruthy(value) {
		c.Service.Mode = ModeOffline
	}

	if value, ok := lookup("TEXT_MODEL"); ok && strings.TrimSpace(value) != "" {
		c.LLM.TextModels = []string{strings.TrimSpace(value)}
	}

	if value, ok := lookup("IMAGE_MODEL"); ok && strings.TrimSpace(value) != "" {
		c.LLM.ImageModel = strings.TrimSpace(value)
	}

	if value, ok := lookup("MAX_IMAGES"); ok && strings.TrimSpace(value) != "" {
		maxImages, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse MAX_IMAGES %q: %w", value, err)
		}

		c.Illustration.MaxImages = maxImages
	}

	return nil
}

// ApplyOverrides layers command-line values over the loaded configuration.
func (c *Config) ApplyOverrides(overrides Overrides) {
	if overrides.MaxImages != nil {
		c.Illustration.MaxImages = *overrides.MaxImages
	}

	if overrides.HeroImage != nil {
		c.Illustration.HeroImage = *overrides.HeroImage
	}

	if overrides.TextModel != "" {
		c.LLM.TextModels = []string{overrides.TextModel}
	}

	if overrides.ImageModel != "" {
		c.LLM.ImageModel = overrides.ImageModel
	}

	if overrides.AssetsDir != "" {
		c.Illustration.AssetsDir = overrides.AssetsDir
	}

	if overrides.DryRun {
		c.Service.Mode = ModeOffline
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(&c.Service,
		validation.Field(&c.Service.Workers, validation.Min(1)),
		validation.Field(&c.Service.Mode, validation.Required, validation.In(ModeLive, ModeOffline)),
	)
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}

	err = validation.ValidateStruct(&c.Illustration,
		validation.Field(&c.Illustration.MaxImages, validation.Min(0)),
		validation.Field(&c.Illustration.DefaultWidth, validation.Required, validation.Min(1)),
		validation.Field(&c.Illustration.DefaultHeight, validation.Required, validation.Min(1)),
		validation.Field(&c.Illustration.OutputSuffix, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("illustration: %w", err)
	}

	err = validation.ValidateStruct(&c.LLM,
		validation.Field(&c.LLM.TextModels, validation.Required),
		validation.Field(&c.LLM.ImageModel, validation.Required),
		validation.Field(&c.LLM.MaxRetries, validation.Min(1)),
		validation.Field(&c.LLM.TimeoutSeconds, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	return nil
}

// ValidateNATS checks the settings the serve command needs.
func (c *Config) ValidateNATS() error {
	err := validation.ValidateStruct(&c.NATS,
		validation.Field(&c.NATS.URL, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}

	err = validation.ValidateStruct(&c.NATS.Consumer,
		validation.Field(&c.NATS.Consumer.Stream, validation.Required),
		validation.Field(&c.NATS.Consumer.Subject, validation.Required),
		validation.Field(&c.NATS.Consumer.Durable, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("nats consumer: %w", err)
	}

	err = validation.ValidateStruct(&c.NATS.ObjectStore,
		validation.Field(&c.NATS.ObjectStore.BlogBucket, validation.Required),
		validation.Field(&c.NATS.ObjectStore.AssetBucket, validation.Required),
		validation.Field(&c.NATS.ObjectStore.OutputBucket, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("nats object store: %w", err)
	}

	return nil
}

func (c *Config) GetAPIKey() string {
	return os.Getenv(c.LLM.APIKeyEnvironmentVariable)
}

func (c *Config) GetLogFilePath(filename string) string {
	return filepath.Join(c.Service.LogDir, filename)
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
