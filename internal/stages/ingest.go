package stages

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/internal/task"
)

//go:embed sample.csv
var sampleCSV []byte

// StatusError is returned for a non 2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (err StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", err.URL, err.StatusCode, http.StatusText(err.StatusCode))
}

// Retryable reports whether the request may succeed when repeated.
func (err StatusError) Retryable() bool {
	return err.StatusCode >= http.StatusInternalServerError ||
		err.StatusCode == http.StatusTooManyRequests ||
		err.StatusCode == http.StatusRequestTimeout
}

// ResponseTooLargeError is returned when a response body exceeds the configured limit.
type ResponseTooLargeError struct {
	URL   string
	Limit int64
}

func (err ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response of %s exceeds %d bytes", err.URL, err.Limit)
}

// IngestAPI fetches the JSON payload of the API URL and stores it, indented, in the raw directory.
func (s *Stages) IngestAPI(ctx context.Context) error {
	body, err := s.get(ctx, s.opts.APIURL)
	if err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return task.MarkPermanent(errors.Errorf("API response from %s is not JSON: %w", s.opts.APIURL, err))
	}

	indented, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.New(err)
	}

	path, err := s.writeRaw("worldbank_regions", ".json", indented)
	if err != nil {
		return err
	}

	s.logger.Infof("Wrote raw API payload to %s", path)

	return nil
}

// IngestScrape fetches the HTML page of the scrape URL and stores it in the raw directory.
func (s *Stages) IngestScrape(ctx context.Context) error {
	body, err := s.get(ctx, s.opts.ScrapeURL)
	if err != nil {
		return err
	}

	path, err := s.writeRaw("example_home", ".html", body)
	if err != nil {
		return err
	}

	s.logger.Infof("Wrote raw HTML to %s", path)

	return nil
}

// IngestCSV copies the CSV source, or the bundled sample when none is configured, to the raw directory.
func (s *Stages) IngestCSV(_ context.Context) error {
	data := sampleCSV

	if s.opts.CSVSource != "" {
		var err error
		if data, err = os.ReadFile(s.opts.CSVSource); err != nil {
			return errors.New(err)
		}
	}

	path, err := s.writeRaw("csv_ingest", ".csv", data)
	if err != nil {
		return err
	}

	s.logger.Infof("Copied CSV to %s", path)

	return nil
}

// get returns the body of a GET request. Client errors other than timeouts and throttling are permanent.
func (s *Stages) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, task.MarkPermanent(errors.New(err))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.New(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := StatusError{URL: url, StatusCode: resp.StatusCode}
		if !statusErr.Retryable() {
			return nil, task.MarkPermanent(errors.New(statusErr))
		}

		return nil, errors.New(statusErr)
	}

	return s.readBody(url, resp.Body)
}

// readBody reads at most maxResponseSize bytes. A larger body is a permanent failure.
func (s *Stages) readBody(url string, body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, s.maxResponseSize+1))
	if err != nil {
		return nil, errors.New(err)
	}

	if int64(len(data)) > s.maxResponseSize {
		return nil, task.MarkPermanent(errors.New(ResponseTooLargeError{URL: url, Limit: s.maxResponseSize}))
	}

	return data, nil
}

func (s *Stages) writeRaw(name, ext string, data []byte) (string, error) {
	dir := s.opts.RawDir()
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", errors.New(err)
	}

	path := filepath.Join(dir, name+"_"+s.timestamp()+ext)

	if err := os.WriteFile(path, data, filePerm); err != nil {
		return "", errors.New(err)
	}

	return path, nil
}
