// Package ingest fetches inspection documents over HTTPS and extracts plain
// text from PDF bytes, bounding size and time so one oversized upload cannot
// stall a worker invocation.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/homeside-repairs/estimate-worker/internal/config"
)

// TruncationMarker is appended when combined text exceeds the budget.
const TruncationMarker = "\n\n[--- TRUNCATED: combined document text exceeded budget ---]"

// FetchError reports a document that could not be retrieved. Fatal to the
// current job only.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Extractor produces the combined plain text of a job's documents.
type Extractor interface {
	CombinedText(ctx context.Context, urls []string) (string, error)
}

// Ingestor implements Extractor over HTTPS GET + PDF parsing.
type Ingestor struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     config.IngestConfig
}

// New creates an Ingestor from configuration.
func New(cfg config.IngestConfig) *Ingestor {
	perSecond := cfg.FetchesPerSecond
	if perSecond <= 0 {
		perSecond = 2
	}
	return &Ingestor{
		client: &http.Client{
			Timeout: cfg.FetchTimeout(),
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 2),
		cfg:     cfg,
	}
}

// ExtractText fetches one document and returns its plain text. A document
// with no extractable text yields an empty string, which is not an error.
func (g *Ingestor) ExtractText(ctx context.Context, url string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "ingest: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{URL: url, Status: resp.StatusCode}
	}

	limited := io.LimitReader(resp.Body, g.cfg.MaxDocumentBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	if int64(len(data)) > g.cfg.MaxDocumentBytes {
		return "", &FetchError{URL: url, Err: eris.Errorf("document exceeds %d bytes", g.cfg.MaxDocumentBytes)}
	}

	text, err := extractPDFText(data)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: parse pdf %s", url)
	}
	return text, nil
}

// CombinedText fetches every document, concatenates their text with source
// markers, and truncates the result to the configured character budget.
// Documents of one job fetch concurrently; the worker never parallelizes
// across jobs.
func (g *Ingestor) CombinedText(ctx context.Context, urls []string) (string, error) {
	if len(urls) == 0 {
		return "", nil
	}

	texts := make([]string, len(urls))
	eg, egCtx := errgroup.WithContext(ctx)
	limit := g.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	eg.SetLimit(limit)

	for i, url := range urls {
		eg.Go(func() error {
			text, err := g.ExtractText(egCtx, url)
			if err != nil {
				return err
			}
			texts[i] = text
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	combined := Combine(urls, texts, g.cfg.TextBudgetChars)
	zap.L().Debug("ingest: documents combined",
		zap.Int("documents", len(urls)),
		zap.Int("chars", len(combined)),
	)
	return combined, nil
}

// Combine joins per-document texts with delimiting markers identifying the
// source, then truncates to the character budget with a visible marker.
func Combine(urls, texts []string, budget int) string {
	var b strings.Builder
	for i, text := range texts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "===== Document %d: %s =====\n", i+1, urls[i])
		b.WriteString(text)
	}

	combined := b.String()
	if budget > 0 && len(combined) > budget {
		// Back the cut up to a rune boundary so truncation never emits a
		// split multi-byte character.
		cut := budget
		for cut > 0 && !utf8.RuneStart(combined[cut]) {
			cut--
		}
		combined = combined[:cut] + TruncationMarker
	}
	return combined
}

// extractPDFText pulls plain text out of PDF bytes using ledongthuc/pdf.
func extractPDFText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "open pdf")
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", eris.Wrap(err, "extract text")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", eris.Wrap(err, "read text")
	}
	return buf.String(), nil
}
