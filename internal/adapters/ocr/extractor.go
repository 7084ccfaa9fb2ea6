package ocr

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dauphongxd/tradingbot/internal/domain"
	"github.com/dauphongxd/tradingbot/internal/ports"

	"github.com/otiai10/gosseract/v2"
)

// Extractor implements the ports.PriceExtractor interface using Tesseract
// via gosseract. A single client is reused across calls; Tesseract clients
// are not safe for concurrent use, so calls are serialized.
type Extractor struct {
	mu     sync.Mutex
	client *gosseract.Client
	logger ports.Logger
}

// Config holds configuration for the OCR extractor.
type Config struct {
	Language string // Defaults to "eng"
	Logger   ports.Logger
}

// New creates a new OCR price extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for OCR extractor")
	}
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(lang); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language %s: %w", lang, err)
	}
	return &Extractor{client: client, logger: cfg.Logger}, nil
}

// Close releases the underlying Tesseract client.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

var (
	entryLabelRe  = regexp.MustCompile(`(?i)\bentry\b`)
	stopLabelRe   = regexp.MustCompile(`(?i)\b(stop\s*-?\s*loss|stoploss|stop|sl)\b`)
	targetLabelRe = regexp.MustCompile(`(?i)\b(target|take\s*-?\s*profit|tp)\b`)
	numberRe      = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// Extract runs OCR on the referenced image and pulls the labelled price
// levels out of the text.
func (e *Extractor) Extract(ctx context.Context, imageRef string) (domain.ExtractedPrices, error) {
	if _, err := os.Stat(imageRef); err != nil {
		return domain.ExtractedPrices{}, fmt.Errorf("image %s is not readable: %w", imageRef, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return domain.ExtractedPrices{}, fmt.Errorf("OCR extractor is closed")
	}
	if err := ctx.Err(); err != nil {
		return domain.ExtractedPrices{}, fmt.Errorf("extraction canceled: %w: %w", ports.ErrContextCanceled, err)
	}

	if err := e.client.SetImage(imageRef); err != nil {
		return domain.ExtractedPrices{}, fmt.Errorf("failed to load image %s: %w", imageRef, err)
	}
	text, err := e.client.Text()
	if err != nil {
		return domain.ExtractedPrices{}, fmt.Errorf("OCR failed for %s: %w", imageRef, err)
	}
	e.logger.Debug(ctx, "OCR text extracted", map[string]interface{}{"imageRef": imageRef, "chars": len(text)})

	prices := ParsePrices(text)
	if !prices.HasEntry() && !prices.HasStopLoss() && !prices.HasTarget() {
		e.logger.Warn(ctx, "No labelled price levels found in image", map[string]interface{}{"imageRef": imageRef})
	}
	return prices, nil
}

// ParsePrices scans OCR output line by line for labelled price levels.
// Exported for tests; has no Tesseract dependency.
func ParsePrices(text string) domain.ExtractedPrices {
	var prices domain.ExtractedPrices
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case entryLabelRe.MatchString(line):
			if v, ok := parseNumber(line); ok && prices.Entry == nil {
				prices.Entry = &v
			}
		case stopLabelRe.MatchString(line):
			if v, ok := parseNumber(line); ok && prices.StopLoss == nil {
				prices.StopLoss = &v
			}
		case targetLabelRe.MatchString(line):
			if v, ok := parseNumber(line); ok && prices.Target == nil {
				prices.Target = &v
			}
		}
	}
	return prices
}

// ocrDigitFixes repairs characters Tesseract commonly misreads inside
// numbers on chart screenshots.
var ocrDigitFixes = strings.NewReplacer(
	"O", "0",
	"o", "0",
	"B", "8",
	"l", "1",
	"I", "1",
	",", "",
	" ", "",
)

func parseNumber(line string) (float64, bool) {
	// Drop everything up to the label separator so digits inside the label
	// itself are not picked up.
	if idx := strings.IndexAny(line, ":=@"); idx >= 0 {
		line = line[idx+1:]
	}
	cleaned := ocrDigitFixes.Replace(line)
	match := numberRe.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
