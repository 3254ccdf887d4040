// Package imagegen turns image prompts into PNG files in an assets directory,
// using a remote image model when available and a rendered placeholder
// otherwise.
package imagegen

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decode JPEG output from the image model
	"image/png"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"
	"google.golang.org/genai"

	"github.com/book-expert/blog-illustrator-service/internal/config"
)

const (
	filePrefix     = "img-"
	fileExtension  = ".png"
	hashPrefixSize = 16
	assetsDirPerm  = 0o755
	assetFilePerm  = 0o644
)

var (
	ErrAssetsDirRequired = errors.New("assets directory is required")
	ErrNoImageReturned   = errors.New("image model returned no image")
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ImageModel is the subset of *genai.Models used for image generation.
type ImageModel interface {
	GenerateImages(
		ctx context.Context,
		model, prompt string,
		config *genai.GenerateImagesConfig,
	) (*genai.GenerateImagesResponse, error)
}

// Request describes one image. Zero Width or Height are derived from
// AspectRatio and the configured defaults.
type Request struct {
	Prompt      string
	AspectRatio string
	Width       int
	Height      int
}

// Result reports where an image was written and how it was produced.
type Result struct {
	Path        string
	Placeholder bool
	Reused      bool
}

type Config struct {
	Mode          config.ExecutionMode
	Model         string
	AssetsDir     string
	DefaultWidth  int
	DefaultHeight int
	SkipExisting  bool
}

type Generator struct {
	model  ImageModel
	logger *logger.Logger
	group  singleflight.Group
	config Config
}

// New prepares the assets directory. A nil model behaves like offline mode.
func New(configuration Config, model ImageModel, log *logger.Logger) (*Generator, error) {
	if configuration.AssetsDir == "" {
		return nil, ErrAssetsDirRequired
	}

	if err := os.MkdirAll(configuration.AssetsDir, assetsDirPerm); err != nil {
		return nil, fmt.Errorf("create assets directory %s: %w", configuration.AssetsDir, err)
	}

	return &Generator{model: model, logger: log, config: configuration}, nil
}

// FileName is the content-addressed name for a prompt.
func FileName(prompt string) string {
	digest := sha256.Sum256([]byte(prompt))

	return filePrefix + hex.EncodeToString(digest[:])[:hashPrefixSize] + fileExtension
}

// Generate writes the image for request and returns its path. Remote
// failures degrade to a placeholder; only filesystem errors are returned.
// Concurrent calls for the same prompt share one generation.
func (g *Generator) Generate(ctx context.Context, request Request) (Result, error) {
	name := FileName(request.Prompt)
	outputPath := filepath.Join(g.config.AssetsDir, name)

	value, err, _ := g.group.Do(name, func() (any, error) {
		return g.generate(ctx, request, outputPath)
	})
	if err != nil {
		return Result{}, err
	}

	result, _ := value.(Result)

	return result, nil
}

func (g *Generator) generate(ctx context.Context, request Request, outputPath string) (Result, error) {
	if g.config.SkipExisting {
		if _, err := os.Stat(outputPath); err == nil {
			return Result{Path: outputPath, Reused: true}, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("stat %s: %w", outputPath, err)
		}
	}

	width, height := request.Width, request.Height
	if width <= 0 || height <= 0 {
		width, height = Size(request.AspectRatio, g.config.DefaultWidth, g.config.DefaultHeight)
	}

	if g.config.Mode == config.ModeLive && g.model != nil {
		data, err := g.generateRemote(ctx, request)
		if err == nil {
			if writeErr := writeFileAtomic(outputPath, data); writeErr != nil {
				return Result{}, writeErr
			}

			return Result{Path: outputPath}, nil
		}

		g.logger.Warnf("Image model failed for %s, rendering placeholder: %v", filepath.Base(outputPath), err)
	}

	data, err := RenderPlaceholder(request.Prompt, width, height)
	if err != nil {
		return Result{}, err
	}

	if err := writeFileAtomic(outputPath, data); err != nil {
		return Result{}, err
	}

	return Result{Path: outputPath, Placeholder: true}, nil
}

func (g *Generator) generateRemote(ctx context.Context, request Request) ([]byte, error) {
	response, err := g.model.GenerateImages(ctx, g.config.Model, request.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    modelAspectRatio(request.AspectRatio),
	})
	if err != nil {
		return nil, fmt.Errorf("generate images: %w", err)
	}

	if response == nil || len(response.GeneratedImages) == 0 ||
		response.GeneratedImages[0].Image == nil || len(response.GeneratedImages[0].Image.ImageBytes) == 0 {
		return nil, ErrNoImageReturned
	}

	return ensurePNG(response.GeneratedImages[0].Image.ImageBytes)
}

func ensurePNG(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, pngSignature) {
		return data, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, decoded); err != nil {
		return nil, fmt.Errorf("encode generated image: %w", err)
	}

	return buffer.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}

	tempName := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempName)

		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("close %s: %w", path, err)
	}

	if err := os.Chmod(tempName, assetFilePerm); err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("chmod %s: %w", path, err)
	}

	if err := os.Rename(tempName, path); err != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("rename into %s: %w", path, err)
	}

	return nil
}
