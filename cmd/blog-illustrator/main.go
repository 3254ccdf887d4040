package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"

	"github.com/book-expert/blog-illustrator-service/internal/config"
)

const (
	serviceName       = "blog-illustrator"
	logFileName       = "blog-illustrator.log"
	bootstrapLogFile  = "blog-illustrator-bootstrap.log"
	defaultAssetsName = "assets"
)

// CLI is the command-line surface.
type CLI struct {
	Config  string     `short:"c" help:"Path to the TOML configuration file." default:"project.toml"`
	EnvFile string     `name:"env-file" help:"Optional .env file loaded before configuration." default:".env"`
	Process ProcessCmd `cmd:"" help:"Illustrate one Markdown file."`
	Serve   ServeCmd   `cmd:"" help:"Illustrate posts submitted over NATS JetStream."`
}

// ProcessCmd illustrates a single file on disk.
type ProcessCmd struct {
	Input       string `short:"i" required:"" help:"Markdown file to illustrate."`
	AssetsDir   string `name:"assets-dir" help:"Directory for generated images (default: <input dir>/assets)."`
	MaxImages   int    `name:"max-images" default:"-1" help:"Maximum number of images; negative keeps the configured value."`
	TextModel   string `name:"text-model" help:"Text model used for planning."`
	ImageModel  string `name:"image-model" help:"Image model used for generation."`
	HeroImage   bool   `name:"hero-image" xor:"hero" help:"Ask the planner for a hero image."`
	NoHeroImage bool   `name:"no-hero-image" xor:"hero" help:"Do not ask for a hero image."`
	DryRun      bool   `name:"dry-run" help:"Plan heuristically and render placeholders without calling remote models."`
}

// ServeCmd runs the JetStream worker until interrupted.
type ServeCmd struct {
	DryRun bool `name:"dry-run" help:"Plan heuristically and render placeholders without calling remote models."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI

	kongContext := kong.Parse(&cli,
		kong.Name(serviceName),
		kong.Description("Inserts AI-generated illustrations into Markdown blog posts."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	if err := loadEnvFile(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		stop()
		os.Exit(1)
	}

	if err := kongContext.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		stop()
		os.Exit(1)
	}
}

// Run illustrates the input file and prints the output path.
func (c *ProcessCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, log, err := loadConfiguration(cli.Config, c.overrides())
	if err != nil {
		return err
	}

	if cfg.Illustration.AssetsDir == "" {
		cfg.Illustration.AssetsDir = defaultAssetsDir(c.Input)
	}

	illustrator, err := buildIllustrator(ctx, cfg, log)
	if err != nil {
		return err
	}

	result, err := illustrator.ProcessFile(ctx, c.Input)
	if err != nil {
		return fmt.Errorf("process %s: %w", c.Input, err)
	}

	fmt.Fprintf(os.Stdout, "%s (%d images, %s plan)\n", result.OutputPath, len(result.Images), result.Source)

	return nil
}

func (c *ProcessCmd) overrides() config.Overrides {
	overrides := config.Overrides{
		TextModel:  c.TextModel,
		ImageModel: c.ImageModel,
		AssetsDir:  c.AssetsDir,
		DryRun:     c.DryRun,
	}

	if c.MaxImages >= 0 {
		maxImages := c.MaxImages
		overrides.MaxImages = &maxImages
	}

	switch {
	case c.HeroImage:
		hero := true
		overrides.HeroImage = &hero
	case c.NoHeroImage:
		hero := false
		overrides.HeroImage = &hero
	}

	return overrides
}

// Run serves until the context is cancelled by a signal.
func (c *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, log, err := loadConfiguration(cli.Config, config.Overrides{DryRun: c.DryRun})
	if err != nil {
		return err
	}

	return serve(ctx, cfg, log)
}

// loadConfiguration reads the config with a bootstrap logger, then opens the
// service logger under the configured log directory.
func loadConfiguration(configPath string, overrides config.Overrides) (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := logger.New(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(configPath, bootstrapLog)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	cfg.ApplyOverrides(overrides)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Service.LogDir, logFileName)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	log.Infof("Writing logs to %s", cfg.GetLogFilePath(logFileName))

	return cfg, log, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

func defaultAssetsDir(inputPath string) string {
	return filepath.Join(filepath.Dir(inputPath), defaultAssetsName)
}
