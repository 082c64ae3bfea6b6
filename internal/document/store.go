// Package document stores uploaded PDFs on local disk and turns them into
// text for grounded questions.
//
// Stored names are "<unix-millis>_<sanitized original name>" and only ever
// contain [a-zA-Z0-9._-], so a stored name is always a single path segment
// inside the upload root. Open and Path reject anything else, which is what
// keeps callers from reaching outside that directory.
package document

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/howard-nolan/docchat/internal/apperr"
	"github.com/howard-nolan/docchat/internal/metrics"
)

// ContentTypePDF is the only media type Save accepts.
const ContentTypePDF = "application/pdf"

// maxCreateAttempts bounds how many timestamps Save tries when a stored
// name is already taken (same millisecond, same original name).
const maxCreateAttempts = 16

var (
	unsafeChars    = regexp.MustCompile(`[^a-zA-Z0-9.\-]`)
	storedNameRule = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Document is an uploaded PDF as persisted on disk.
type Document struct {
	StoredName string
	Path       string
}

// Store persists uploads under a fixed directory.
type Store struct {
	dir      string
	maxBytes int64
	now      func() time.Time
	metrics  *metrics.Metrics
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxBytes rejects uploads larger than n bytes. n <= 0 disables the cap.
func WithMaxBytes(n int64) StoreOption {
	return func(s *Store) { s.maxBytes = n }
}

// WithClock replaces time.Now for stored-name timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithMetrics records upload outcomes on m.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore returns a Store rooted at dir, creating the directory if it
// doesn't exist yet.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "document.NewStore", fmt.Errorf("resolving upload dir: %w", err))
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.New(apperr.KindConfiguration, "document.NewStore", fmt.Errorf("creating upload dir: %w", err))
	}

	s := &Store{dir: abs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the absolute upload root.
func (s *Store) Dir() string {
	return s.dir
}

// Sanitize maps an uploaded file name onto the stored-name alphabet by
// replacing every character outside [a-zA-Z0-9.-] with an underscore.
// Names with nothing usable in them fall back to "document.pdf".
func Sanitize(name string) string {
	if name == "" || name == "." || name == ".." {
		return "document.pdf"
	}
	return unsafeChars.ReplaceAllString(name, "_")
}

// ValidName reports whether name could have been produced by Save.
func ValidName(name string) bool {
	return name != "." && name != ".." && storedNameRule.MatchString(name)
}

// Save writes r to a new file and returns its stored name. contentType
// must be exactly application/pdf; otherwise nothing is written. An
// existing file is never overwritten.
func (s *Store) Save(r io.Reader, originalName, contentType string) (doc *Document, err error) {
	const op = "document.Save"

	defer func() {
		s.recordUpload(err)
	}()

	if contentType != ContentTypePDF {
		return nil, apperr.Errorf(apperr.KindUnsupportedMediaType, op, "content type %q is not %s", contentType, ContentTypePDF)
	}

	safe := Sanitize(filepath.Base(originalName))
	ts := s.now().UnixMilli()

	for attempt := int64(0); attempt < maxCreateAttempts; attempt++ {
		name := fmt.Sprintf("%d_%s", ts+attempt, safe)
		path := filepath.Join(s.dir, name)

		// O_EXCL makes creation atomic: if two requests race for the same
		// name, exactly one wins and the other moves to the next timestamp.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}

		if err := s.write(f, r); err != nil {
			os.Remove(path)
			return nil, err
		}
		return &Document{StoredName: name, Path: path}, nil
	}

	return nil, fmt.Errorf("%s: no free stored name for %q after %d attempts", op, safe, maxCreateAttempts)
}

// write copies r into f and closes f, enforcing the size cap.
func (s *Store) write(f *os.File, r io.Reader) error {
	src := r
	if s.maxBytes > 0 {
		// Read one byte past the cap so we can tell "exactly at the limit"
		// from "over it".
		src = io.LimitReader(r, s.maxBytes+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		return fmt.Errorf("writing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing upload: %w", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return apperr.Errorf(apperr.KindInvalidInput, "document.Save", "upload exceeds %d bytes", s.maxBytes)
	}
	return nil
}

// Open returns the bytes stored under storedName.
func (s *Store) Open(storedName string) ([]byte, error) {
	path, err := s.Path(storedName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Removed between Path and ReadFile (e.g. by the janitor).
		return nil, apperr.New(apperr.KindNotFound, "document.Open", err)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", storedName, err)
	}
	return data, nil
}

// Path returns the absolute path of an existing stored document.
func (s *Store) Path(storedName string) (string, error) {
	const op = "document.Path"

	if !ValidName(storedName) {
		return "", apperr.Errorf(apperr.KindNotFound, op, "invalid stored name %q", storedName)
	}
	path := filepath.Join(s.dir, storedName)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", apperr.Errorf(apperr.KindNotFound, op, "no document named %q", storedName)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", storedName, err)
	}
	if !info.Mode().IsRegular() {
		return "", apperr.Errorf(apperr.KindNotFound, op, "%q is not a document", storedName)
	}
	return path, nil
}

func (s *Store) recordUpload(err error) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	s.metrics.Uploads.WithLabelValues(outcome).Inc()
}
