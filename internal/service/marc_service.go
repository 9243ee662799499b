package service

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/internal/models"
	"github.com/noah-isme/etd-pipeline/pkg/config"
	"github.com/noah-isme/etd-pipeline/pkg/marc"
)

const (
	marcLeader = "00000nam a2200000Ki 4500"
	marc006    = "m     o  d        "
	marc007    = "cr |n|||||||||"
	// marc008Tail follows date entered (YYMMDD), date type and the first date.
	marc008Tail = "    mau     obm   000 0 eng d"
)

var blankLines = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

type artifactWriter interface {
	StoreFile(key string, write func(*os.File) error) (*Artifact, error)
}

// MarcService builds catalog records and batches them for the library catalog.
type MarcService struct {
	theses        *thesisBatchLoader
	artifacts     artifactWriter
	cfg           config.MarcConfig
	handleBaseURL string
	now           func() time.Time
	logger        *zap.Logger
}

// NewMarcService constructs the service.
func NewMarcService(theses thesisLoader, artifacts artifactWriter, cfg config.MarcConfig, handleBaseURL string, logger *zap.Logger) *MarcService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarcService{
		theses:        newThesisBatchLoader(theses, 4),
		artifacts:     artifacts,
		cfg:           cfg,
		handleBaseURL: handleBaseURL,
		now:           time.Now,
		logger:        logger,
	}
}

// Field008 renders the fixed-length data elements for a thesis catalogued on
// entered and published in gradYear.
func Field008(entered time.Time, gradYear int) string {
	return entered.Format("060102") + "s" + fmt.Sprintf("%04d", gradYear) + marc008Tail
}

// SplitAbstract breaks an abstract into paragraphs at blank lines, dropping
// empty paragraphs.
func SplitAbstract(abstract string) []string {
	var out []string
	for _, p := range blankLines.Split(abstract, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BuildRecord assembles the catalog record for thesis.
func (s *MarcService) BuildRecord(thesis *models.Thesis) *marc.Record {
	year := strconv.Itoa(thesis.GraduationYear())
	grantor := strings.TrimRight(s.cfg.PublisherName, ", ")

	r := marc.NewRecord(marcLeader)
	r.AddControlField("006", marc006)
	r.AddControlField("007", marc007)
	r.AddControlField("008", Field008(s.now(), thesis.GraduationYear()))
	r.AddDataField("040", ' ', ' ',
		marc.Subfield{Code: 'a', Value: s.cfg.CatalogingSource},
		marc.Subfield{Code: 'b', Value: "eng"},
		marc.Subfield{Code: 'e', Value: "rda"},
		marc.Subfield{Code: 'c', Value: s.cfg.CatalogingSource},
	)

	titleInd1 := byte('0')
	if len(thesis.Authors) > 0 {
		titleInd1 = '1'
		r.AddDataField("100", '1', ' ',
			marc.Subfield{Code: 'a', Value: thesis.Authors[0].Name + ","},
			marc.Subfield{Code: 'e', Value: "author."},
		)
	}
	r.AddDataField("245", titleInd1, '0', marc.Subfield{Code: 'a', Value: thesis.Title})
	r.AddDataField("264", ' ', '1',
		marc.Subfield{Code: 'a', Value: s.cfg.PublisherPlace},
		marc.Subfield{Code: 'b', Value: s.cfg.PublisherName},
		marc.Subfield{Code: 'c', Value: year},
	)
	r.AddDataField("264", ' ', '4', marc.Subfield{Code: 'c', Value: "©" + year})
	r.AddDataField("300", ' ', ' ', marc.Subfield{Code: 'a', Value: "1 online resource"})
	r.AddDataField("336", ' ', ' ',
		marc.Subfield{Code: 'a', Value: "text"},
		marc.Subfield{Code: 'b', Value: "txt"},
		marc.Subfield{Code: '2', Value: "rdacontent"},
	)
	r.AddDataField("337", ' ', ' ',
		marc.Subfield{Code: 'a', Value: "computer"},
		marc.Subfield{Code: 'b', Value: "c"},
		marc.Subfield{Code: '2', Value: "rdamedia"},
	)
	r.AddDataField("338", ' ', ' ',
		marc.Subfield{Code: 'a', Value: "online resource"},
		marc.Subfield{Code: 'b', Value: "cr"},
		marc.Subfield{Code: '2', Value: "rdacarrier"},
	)
	for _, degree := range thesis.Degrees {
		for _, dept := range thesis.Departments {
			r.AddDataField("502", ' ', ' ',
				marc.Subfield{Code: 'b', Value: degree.Abbreviation},
				marc.Subfield{Code: 'c', Value: fmt.Sprintf("%s, %s", grantor, dept.Name)},
				marc.Subfield{Code: 'd', Value: year},
			)
		}
	}
	for _, paragraph := range SplitAbstract(thesis.AbstractText()) {
		r.AddDataField("520", '3', ' ', marc.Subfield{Code: 'a', Value: paragraph})
	}
	r.AddDataField("655", ' ', '7',
		marc.Subfield{Code: 'a', Value: "Academic theses."},
		marc.Subfield{Code: '2', Value: "lcgft"},
	)
	if len(thesis.Authors) > 1 {
		for _, a := range thesis.Authors[1:] {
			r.AddDataField("700", '1', ' ',
				marc.Subfield{Code: 'a', Value: a.Name + ","},
				marc.Subfield{Code: 'e', Value: "author."},
			)
		}
	}
	for _, a := range thesis.Advisors {
		r.AddDataField("700", '1', ' ',
			marc.Subfield{Code: 'a', Value: a.Name + ","},
			marc.Subfield{Code: 'e', Value: "degree supervisor."},
		)
	}
	for _, dept := range thesis.Departments {
		r.AddDataField("710", '2', ' ',
			marc.Subfield{Code: 'a', Value: dept.NameDSpace + ","},
			marc.Subfield{Code: 'e', Value: "degree granting institution."},
		)
	}
	if handle := thesis.Handle(); handle != "" {
		r.AddDataField("856", '4', '1', marc.Subfield{Code: 'u', Value: handleURL(s.handleBaseURL, handle)})
	}
	return r
}

// ExportBatch writes the catalog records of the given theses into one zipped
// transport file. Theses that cannot be loaded or have no handle are reported
// and left out.
func (s *MarcService) ExportBatch(ctx context.Context, ids []int64) (*models.RunSummary, error) {
	summary := &models.RunSummary{Total: len(ids)}
	theses := s.theses.Load(ctx, ids, summary)

	records := make([]*marc.Record, 0, len(theses))
	for _, t := range theses {
		if t.Handle() == "" {
			summary.AddError(t.ID, "cannot catalog a thesis without a handle")
			continue
		}
		records = append(records, s.BuildRecord(t))
	}
	if len(records) == 0 {
		return summary, nil
	}

	stamp := s.now().UTC().Format("20060102T150405")
	key := fmt.Sprintf("marc/etd_marc_%s.zip", stamp)
	artifact, err := s.artifacts.StoreFile(key, func(f *os.File) error {
		return marc.WriteBatchFile(f, fmt.Sprintf("etd_marc_%s.mrc", stamp), records)
	})
	if err != nil {
		return summary, fmt.Errorf("write marc batch: %w", err)
	}
	summary.Processed = len(records)
	summary.AddArtifact("marc_zip", artifact.Key)
	summary.AddArtifact("marc_zip_url", artifact.URL)
	s.logger.Sugar().Infow("marc batch written", "records", len(records), "key", artifact.Key)
	return summary, nil
}
