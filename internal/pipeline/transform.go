package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/alertify-service/internal/domain"
)

// ReportTransformer implements Transformer by decoding the JSON report body.
type ReportTransformer struct {
	logger *slog.Logger
}

func NewTransformer(logger *slog.Logger) *ReportTransformer {
	return &ReportTransformer{logger: logger}
}

func (t *ReportTransformer) Transform(_ context.Context, raw domain.RawMessage) (domain.Report, error) {
	report, err := domain.ParseReport(raw)
	if err != nil {
		return domain.Report{}, err
	}
	if report.Content == "" {
		return domain.Report{}, &domain.ValidationError{Field: "content", Reason: "is required"}
	}
	t.logger.Debug("report decoded", "source", report.Source, "offset", raw.Offset)
	return report, nil
}

// Submitter is the incident operation reports are loaded through.
type Submitter interface {
	CreatePost(ctx context.Context, caller domain.Caller, author, content string) (domain.Post, error)
}

// ServiceLoader implements Loader by creating a post as the reporting citizen.
type ServiceLoader struct {
	svc Submitter
}

func NewServiceLoader(svc Submitter) *ServiceLoader {
	return &ServiceLoader{svc: svc}
}

func (l *ServiceLoader) Load(ctx context.Context, r domain.Report) error {
	_, err := l.svc.CreatePost(ctx, domain.Citizen(r.Author), r.Author, r.Content)
	return err
}
