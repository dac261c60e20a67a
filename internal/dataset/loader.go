package dataset

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// LoadError reports that a source could not be read or parsed.
type LoadError struct {
	Locator string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Locator, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader resolves opaque locators (paths, file:// or http(s):// URLs) into frames.
type Loader struct {
	rest *resty.Client
}

// NewLoader creates a loader whose remote fetches time out after timeout.
func NewLoader(timeout time.Duration) *Loader {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	r.SetHeader("Accept", "text/csv, text/plain, */*")
	return &Loader{rest: r}
}

// Load reads and parses the CSV behind locator. Every failure is returned as *LoadError.
func (l *Loader) Load(ctx context.Context, locator string) (*Frame, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, &LoadError{Locator: locator, Err: fmt.Errorf("empty locator")}
	}

	start := time.Now()
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		data, err = l.fetch(ctx, locator)
	default:
		data, err = os.ReadFile(strings.TrimPrefix(locator, "file://"))
	}
	if err != nil {
		return nil, &LoadError{Locator: locator, Err: err}
	}

	frame, err := ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, &LoadError{Locator: locator, Err: err}
	}

	log.Debug().
		Str("locator", locator).
		Int("rows", frame.Len()).
		Int("columns", len(frame.Columns())).
		Dur("elapsed", time.Since(start)).
		Msg("Dataset loaded")

	return frame, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := l.rest.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
