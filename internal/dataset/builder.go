// Package dataset turns the raw harvest into the two packaged training
// datasets: a directory-per-class classification package and an
// image/caption instruction package.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/jewelry-scraper/internal/config"
	"github.com/maltedev/jewelry-scraper/internal/harvest"
)

// ResNetStats summarizes the classification package.
type ResNetStats struct {
	TotalSamples      int            `json:"total_samples"`
	TrainSamples      int            `json:"train_samples"`
	ValSamples        int            `json:"val_samples"`
	AugmentedSamples  int            `json:"augmented_samples"`
	ClassDistribution map[string]int `json:"class_distribution"`
}

// CaptionStats describes the caption length distribution in words.
type CaptionStats struct {
	MinLength int     `json:"min_length"`
	MaxLength int     `json:"max_length"`
	AvgLength float64 `json:"avg_length"`
}

// LLaVAStats summarizes the caption package.
type LLaVAStats struct {
	TotalSamples int          `json:"total_samples"`
	TrainSamples int          `json:"train_samples"`
	ValSamples   int          `json:"val_samples"`
	CaptionStats CaptionStats `json:"caption_stats"`
}

// Result is the outcome of a successful build. Skipped lists undecodable
// source images; they are excluded from both packages and reported to the
// task's error log, but do not fail the build.
type Result struct {
	ResNet  *ResNetStats
	LLaVA   *LLaVAStats
	Skipped []string
}

// Builder assembles both dataset packages from the harvest directory.
type Builder struct {
	store     *harvest.Store
	outputDir string
	cfg       config.DatasetConfig
	logger    *slog.Logger
}

func NewBuilder(store *harvest.Store, outputDir string, cfg config.DatasetConfig, logger *slog.Logger) *Builder {
	return &Builder{
		store:     store,
		outputDir: outputDir,
		cfg:       cfg,
		logger:    logger.With("component", "dataset_builder"),
	}
}

// Build creates both packages. Any I/O error while writing package output is
// returned as-is and fails the run; the raw harvest is left untouched so a
// later standalone build can retry.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	items, err := b.store.Items()
	if err != nil {
		return nil, fmt.Errorf("failed to load harvest: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("harvest at %s is empty", b.store.BaseDir())
	}

	loaded, skipped := b.decodeItems(items)
	if len(loaded) == 0 {
		return nil, fmt.Errorf("no decodable images in harvest (%d skipped)", len(skipped))
	}

	splitRNG := rand.New(rand.NewSource(b.cfg.Seed))
	decodable := make([]harvest.Item, len(loaded))
	for i, s := range loaded {
		decodable[i] = s.item
	}
	split := stratifiedSplit(decodable, b.cfg.TrainRatio, splitRNG)

	resnetDir := filepath.Join(b.outputDir, "resnet")
	llavaDir := filepath.Join(b.outputDir, "llava")

	// Each package is assembled in a staging sibling and swapped in only on
	// success, so a failed rebuild never destroys the last good packages and
	// a partial tree is never exposed.
	resnetStaging := resnetDir + ".tmp"
	llavaStaging := llavaDir + ".tmp"
	for _, dir := range []string{resnetStaging, llavaStaging} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to clear staging directory: %w", err)
		}
	}
	defer func() {
		os.RemoveAll(resnetStaging)
		os.RemoveAll(llavaStaging)
	}()

	images := make(map[string]image.Image, len(loaded))
	for _, s := range loaded {
		images[s.item.URL] = s.img
	}

	result := &Result{Skipped: skipped}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := b.buildResNet(gctx, resnetStaging, split, images)
		if err != nil {
			return fmt.Errorf("resnet package: %w", err)
		}
		result.ResNet = stats
		return nil
	})
	g.Go(func() error {
		stats, err := b.buildLLaVA(gctx, llavaStaging, split, images)
		if err != nil {
			return fmt.Errorf("llava package: %w", err)
		}
		result.LLaVA = stats
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, pkg := range []struct{ staging, final string }{
		{resnetStaging, resnetDir},
		{llavaStaging, llavaDir},
	} {
		if err := os.RemoveAll(pkg.final); err != nil {
			return nil, fmt.Errorf("failed to replace dataset directory: %w", err)
		}
		if err := os.Rename(pkg.staging, pkg.final); err != nil {
			return nil, fmt.Errorf("failed to promote dataset directory: %w", err)
		}
	}

	b.logger.Info("datasets built",
		"resnet_total", result.ResNet.TotalSamples,
		"llava_total", result.LLaVA.TotalSamples,
		"skipped", len(result.Skipped),
	)

	return result, nil
}

type sourceImage struct {
	item harvest.Item
	img  image.Image
}

// decodeItems loads every harvest image once, retrying a failed decode a
// single time before recording the item as skipped.
func (b *Builder) decodeItems(items []harvest.Item) ([]sourceImage, []string) {
	var loaded []sourceImage
	var skipped []string

	for _, item := range items {
		img, err := imaging.Open(item.LocalImagePath)
		if err != nil {
			img, err = imaging.Open(item.LocalImagePath)
		}
		if err != nil {
			b.logger.Warn("skipping undecodable image", "path", item.LocalImagePath, "error", err)
			skipped = append(skipped, fmt.Sprintf("undecodable image %s: %v", item.LocalImagePath, err))
			continue
		}
		loaded = append(loaded, sourceImage{item: item, img: img})
	}

	return loaded, skipped
}

func (b *Builder) buildResNet(ctx context.Context, dir string, split Split, images map[string]image.Image) (*ResNetStats, error) {
	stats := &ResNetStats{ClassDistribution: make(map[string]int)}
	aug := &augmentor{
		size:        b.cfg.ResNetImageSize,
		factor:      b.cfg.AugmentationFactor,
		maxRotation: b.cfg.MaxRotationDegrees,
		rng:         rand.New(rand.NewSource(b.cfg.Seed + 1)),
	}

	type labelRow struct {
		path, category, subcategory string
	}

	for _, part := range []struct {
		name    string
		items   []harvest.Item
		augment bool
	}{
		{"train", split.Train, true},
		{"val", split.Val, false},
	} {
		var rows []labelRow

		for _, item := range part.items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			img, ok := images[item.URL]
			if !ok {
				continue
			}

			classDir := filepath.Join(dir, part.name, item.MainCategory)
			if err := os.MkdirAll(classDir, 0755); err != nil {
				return nil, err
			}

			stem := imageStem(item)
			basePath := filepath.Join(classDir, stem+".jpg")
			if err := imaging.Save(aug.canonical(img), basePath, imaging.JPEGQuality(95)); err != nil {
				return nil, err
			}
			rows = append(rows, labelRow{relPath(dir, basePath), item.MainCategory, item.Subcategory})

			if part.augment {
				for i, variant := range aug.variants(img) {
					augPath := filepath.Join(classDir, fmt.Sprintf("%s_aug_%d.jpg", stem, i))
					if err := imaging.Save(variant, augPath, imaging.JPEGQuality(95)); err != nil {
						return nil, err
					}
					stats.AugmentedSamples++
				}
				stats.TrainSamples++
			} else {
				stats.ValSamples++
			}
			stats.TotalSamples++
			stats.ClassDistribution[item.MainCategory]++
		}

		if err := writeLabelCSV(filepath.Join(dir, part.name, "labels.csv"), func(w *strings.Builder) {
			for _, row := range rows {
				fmt.Fprintf(w, "%s,%s,%s\n", row.path, row.category, row.subcategory)
			}
		}); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

type llavaEntry struct {
	Image    string        `json:"image"`
	Caption  string        `json:"caption"`
	Metadata llavaMetadata `json:"metadata"`
}

type llavaMetadata struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Price       float64 `json:"price"`
	Title       string  `json:"title"`
}

func (b *Builder) buildLLaVA(ctx context.Context, dir string, split Split, images map[string]image.Image) (*LLaVAStats, error) {
	stats := &LLaVAStats{}
	var captionLengths []int

	for _, part := range []struct {
		name  string
		items []harvest.Item
	}{
		{"train", split.Train},
		{"val", split.Val},
	} {
		imagesDir := filepath.Join(dir, part.name, "images")
		if err := os.MkdirAll(imagesDir, 0755); err != nil {
			return nil, err
		}

		var entries []llavaEntry

		for _, item := range part.items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			img, ok := images[item.URL]
			if !ok {
				continue
			}

			outPath := filepath.Join(imagesDir, imageStem(item)+".jpg")
			fitted := imaging.Fit(img, b.cfg.LLaVAImageSize, b.cfg.LLaVAImageSize, imaging.Lanczos)
			if err := imaging.Save(fitted, outPath, imaging.JPEGQuality(95)); err != nil {
				return nil, err
			}

			caption := generateCaption(item)
			entries = append(entries, llavaEntry{
				Image:   relPath(dir, outPath),
				Caption: caption,
				Metadata: llavaMetadata{
					Category:    item.MainCategory,
					Subcategory: item.Subcategory,
					Price:       item.Price,
					Title:       item.Title,
				},
			})

			captionLengths = append(captionLengths, captionWords(caption))
			if part.name == "train" {
				stats.TrainSamples++
			} else {
				stats.ValSamples++
			}
			stats.TotalSamples++
		}

		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, part.name, fmt.Sprintf("%s_data.json", part.name)), data, 0644); err != nil {
			return nil, err
		}
	}

	if len(captionLengths) > 0 {
		sort.Ints(captionLengths)
		total := 0
		for _, n := range captionLengths {
			total += n
		}
		stats.CaptionStats = CaptionStats{
			MinLength: captionLengths[0],
			MaxLength: captionLengths[len(captionLengths)-1],
			AvgLength: float64(total) / float64(len(captionLengths)),
		}
	}

	return stats, nil
}

// imageStem derives a stable per-item filename stem from the stored image.
func imageStem(item harvest.Item) string {
	base := filepath.Base(item.LocalImagePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func relPath(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

func writeLabelCSV(path string, fill func(w *strings.Builder)) error {
	var w strings.Builder
	w.WriteString("image_path,category,subcategory\n")
	fill(&w)
	return os.WriteFile(path, []byte(w.String()), 0644)
}
