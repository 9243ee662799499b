package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/models"
	appErrors "github.com/noah-isme/etd-pipeline/pkg/errors"
	"github.com/noah-isme/etd-pipeline/pkg/export"
	"github.com/noah-isme/etd-pipeline/pkg/storage"
)

// Signed URL scopes.
const (
	ScopeArtifact = "artifact"
	ScopeFile     = "file"
)

type fileStorage interface {
	Put(key string, data []byte) (storage.Object, error)
	Create(key string) (*os.File, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
	CleanupOlderThan(prefix string, ttl time.Duration) ([]string, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string, summary ...string) ([]byte, error)
}

// Artifact describes a stored, downloadable file.
type Artifact struct {
	Key       string
	Checksum  string
	URL       string
	ExpiresAt time.Time
}

// ArtifactConfig tunes artifact behaviour.
type ArtifactConfig struct {
	// DownloadBaseURL is the public prefix the file download route hangs off.
	DownloadBaseURL string
	ResultTTL       time.Duration
}

// ArtifactService stores generated pipeline files and hands out signed download
// URLs for them and for thesis attachments.
type ArtifactService struct {
	storage fileStorage
	signer  *storage.SignedURLSigner
	pdf     pdfRenderer
	logger  *zap.Logger
	cfg     ArtifactConfig
}

// NewArtifactService constructs an ArtifactService.
func NewArtifactService(store fileStorage, signer *storage.SignedURLSigner, cfg ArtifactConfig, logger *zap.Logger, pdf pdfRenderer) *ArtifactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 30 * 24 * time.Hour
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ArtifactService{storage: store, signer: signer, pdf: pdf, logger: logger, cfg: cfg}
}

// Store writes data under key and signs a download URL for it.
func (s *ArtifactService) Store(key string, data []byte) (*Artifact, error) {
	obj, err := s.storage.Put(key, data)
	if err != nil {
		return nil, err
	}
	url, expiresAt, err := s.signer.URL(s.cfg.DownloadBaseURL, ScopeArtifact, obj.Key)
	if err != nil {
		return nil, err
	}
	return &Artifact{Key: obj.Key, Checksum: obj.Checksum, URL: url, ExpiresAt: expiresAt}, nil
}

// StoreFile streams an artifact through write, which owns closing the file.
// A failed write removes the partial file.
func (s *ArtifactService) StoreFile(key string, write func(*os.File) error) (*Artifact, error) {
	f, err := s.storage.Create(key)
	if err != nil {
		return nil, err
	}
	if err := write(f); err != nil {
		if delErr := s.storage.Delete(key); delErr != nil {
			s.logger.Sugar().Warnw("failed to remove partial artifact", "key", key, "error", delErr)
		}
		return nil, err
	}
	url, expiresAt, err := s.signer.URL(s.cfg.DownloadBaseURL, ScopeArtifact, key)
	if err != nil {
		return nil, err
	}
	return &Artifact{Key: key, URL: url, ExpiresAt: expiresAt}, nil
}

// FileURL signs a transient download URL for a thesis attachment.
func (s *ArtifactService) FileURL(file models.ThesisFile) (string, error) {
	url, _, err := s.signer.URL(s.cfg.DownloadBaseURL, ScopeFile, file.Key)
	return url, err
}

// Delete removes an artifact.
func (s *ArtifactService) Delete(key string) error {
	return s.storage.Delete(key)
}

// Download validates a token and opens the referenced file.
func (s *ArtifactService) Download(token string) (*os.File, string, error) {
	scope, key, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	if scope != ScopeArtifact && scope != ScopeFile {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "unknown download scope")
	}
	f, err := s.storage.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", appErrors.ErrNotFound
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return f, path.Base(key), nil
}

// SummaryPDF renders a run summary as a PDF report for operators.
func (s *ArtifactService) SummaryPDF(title string, summary models.RunSummary) ([]byte, error) {
	data := export.Dataset{Headers: []string{"Thesis", "Error"}, Weights: []float64{1, 6}}
	for _, e := range summary.Errors {
		id := ""
		if e.ThesisID != 0 {
			id = strconv.FormatInt(e.ThesisID, 10)
		}
		data.AddRow(id, e.Message)
	}
	return s.pdf.Render(data, title,
		fmt.Sprintf("Total: %d", summary.Total),
		fmt.Sprintf("Processed: %d", summary.Processed),
		fmt.Sprintf("Errors: %d", len(summary.Errors)),
	)
}

// Cleanup purges generated artifacts older than the configured TTL under prefix.
func (s *ArtifactService) Cleanup(prefix string) {
	removed, err := s.storage.CleanupOlderThan(prefix, s.cfg.ResultTTL)
	if err != nil {
		s.logger.Sugar().Warnw("artifact cleanup failed", "prefix", prefix, "error", err)
		return
	}
	if len(removed) > 0 {
		s.logger.Sugar().Infow("artifacts purged", "prefix", prefix, "count", len(removed))
	}
}
