// Package harvest owns the on-disk raw data produced by a scraping run:
// downloaded listing images and their metadata records, grouped by
// category/subcategory. The dataset builder reads the harvest back.
package harvest

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/jewelry-scraper/internal/identity"
)

// Item is one scraped listing. It is owned by the worker that created it
// until it lands in the store; afterwards it lives only on disk.
type Item struct {
	Title          string    `json:"title"`
	Price          float64   `json:"price"`
	Condition      string    `json:"condition,omitempty"`
	URL            string    `json:"url"`
	ImageURL       string    `json:"image_url"`
	MainCategory   string    `json:"main_category"`
	Subcategory    string    `json:"subcategory"`
	LocalImagePath string    `json:"local_image_path"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// Stats summarizes the stored harvest.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	TotalImages int            `json:"total_images"`
	Categories  map[string]int `json:"categories"`
}

// Store writes and reads the harvest directory.
type Store struct {
	baseDir     string
	imagesDir   string
	metadataDir string
	timeout     time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	downloaded map[string]struct{}
}

func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		baseDir:     baseDir,
		imagesDir:   filepath.Join(baseDir, "images"),
		metadataDir: filepath.Join(baseDir, "metadata"),
		timeout:     15 * time.Second,
		logger:      logger.With("component", "harvest"),
		downloaded:  make(map[string]struct{}),
	}

	for _, dir := range []string{s.imagesDir, s.metadataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create harvest directory: %w", err)
		}
	}

	return s, nil
}

// BaseDir returns the harvest root.
func (s *Store) BaseDir() string { return s.baseDir }

// Seen reports whether a listing URL was already stored during this run.
func (s *Store) Seen(listingURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.downloaded[listingURL]
	return ok
}

// SaveItem downloads the item's image and persists the metadata record.
// The identity's user agent and proxy are applied to the image request so
// the download carries the same fingerprint as the page fetch.
func (s *Store) SaveItem(ctx context.Context, item *Item, id identity.Identity) error {
	imagePath, err := s.downloadImage(ctx, item, id)
	if err != nil {
		return fmt.Errorf("image download failed: %w", err)
	}
	item.LocalImagePath = imagePath
	item.ScrapedAt = time.Now()

	if err := s.saveMetadata(item); err != nil {
		return fmt.Errorf("metadata write failed: %w", err)
	}

	s.mu.Lock()
	s.downloaded[item.URL] = struct{}{}
	s.mu.Unlock()

	return nil
}

func (s *Store) downloadImage(ctx context.Context, item *Item, id identity.Identity) (string, error) {
	saveDir := filepath.Join(s.imagesDir, item.MainCategory, item.Subcategory)
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%x.jpg", md5.Sum([]byte(item.ImageURL)))
	savePath := filepath.Join(saveDir, filename)

	if _, err := os.Stat(savePath); err == nil {
		return savePath, nil
	}

	client := &http.Client{Timeout: s.timeout}
	if id.Proxy != "" {
		proxyURL, err := url.Parse(id.Proxy)
		if err != nil {
			return "", fmt.Errorf("invalid proxy %q: %w", id.Proxy, err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.ImageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Accept", "image/webp,image/jpeg,image/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("content type %q is not an image", ct)
	}

	tmpPath := savePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if err := os.Rename(tmpPath, savePath); err != nil {
		return "", err
	}

	return savePath, nil
}

func (s *Store) saveMetadata(item *Item) error {
	saveDir := filepath.Join(s.metadataDir, item.MainCategory, item.Subcategory)
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return err
	}

	filename := fmt.Sprintf("%x.json", md5.Sum([]byte(item.URL)))
	savePath := filepath.Join(saveDir, filename)

	// Write to temp file first for atomicity
	tmpPath := savePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, savePath)
}

// Items loads every metadata record whose image file still exists. Records
// that fail to parse or point at missing images are skipped with a log line;
// the harvest is append-only and a bad record must not block the build.
func (s *Store) Items() ([]Item, error) {
	var items []Item

	err := filepath.WalkDir(s.metadataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			s.logger.Warn("skipping unreadable metadata record", "path", path, "error", err)
			return nil
		}

		if _, err := os.Stat(item.LocalImagePath); err != nil {
			s.logger.Warn("skipping record with missing image", "path", path, "image", item.LocalImagePath)
			return nil
		}

		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk harvest metadata: %w", err)
	}

	return items, nil
}

// Stats counts stored items and images per main category.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{Categories: make(map[string]int)}

	items, err := s.Items()
	if err != nil {
		return nil, err
	}

	stats.TotalItems = len(items)
	for _, item := range items {
		stats.Categories[item.MainCategory]++
	}

	err = filepath.WalkDir(s.imagesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jpg") {
			stats.TotalImages++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk harvest images: %w", err)
	}

	return stats, nil
}
