package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/internal/store"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/resilience"
)

// stagingFlushSize bounds how many parsed documents are held in memory
// before a bulk insert.
const stagingFlushSize = 500

// requiredColumns is the header contract of the flat staging format.
var requiredColumns = []string{
	"country", "doctype", "filepath", "filename", "filedescription",
	"fileguid", "extension", "operationtype", "metadataonly", "sensitivity", "tag",
}

// Stager parses a metadata descriptor stream into work items and
// bulk-inserts them, deduplicated on (job id, file guid). Descriptors can be
// large, so both formats are consumed as streams with bounded buffering.
type Stager struct {
	items    store.WorkItemStore
	policies *resilience.Policies
	logger   logger.Logger
}

func NewStager(items store.WorkItemStore, policies *resilience.Policies, log logger.Logger) *Stager {
	return &Stager{items: items, policies: policies, logger: log}
}

// Stage dispatches on the descriptor's extension and returns the number of
// newly staged documents.
func (s *Stager) Stage(ctx context.Context, job models.IngestJob, descriptorKey string, r io.Reader) (int, error) {
	if strings.EqualFold(path.Ext(descriptorKey), ".csv") {
		return s.stageCSV(ctx, job, r)
	}
	return s.stageJSON(ctx, job, r)
}

// stageJSON consumes the nested descriptor format, decoding one doctype
// element at a time.
func (s *Stager) stageJSON(ctx context.Context, job models.IngestJob, r io.Reader) (int, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("parse descriptor: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return 0, fmt.Errorf("parse descriptor: expected object, got %v", tok)
	}

	staged := 0
	batch := make([]models.WorkItem, 0, stagingFlushSize)
	flush := func() error {
		n, err := s.flush(ctx, batch)
		if err != nil {
			return err
		}
		staged += n
		batch = batch[:0]
		return nil
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return 0, fmt.Errorf("parse descriptor: %w", err)
		}
		key, _ := keyTok.(string)

		if !strings.EqualFold(key, "doctypes") {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return 0, fmt.Errorf("parse descriptor field %s: %w", key, err)
			}
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return 0, fmt.Errorf("parse doctypes: %w", err)
		}
		// A null doctypes field declares no documents.
		if tok == nil {
			continue
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return 0, fmt.Errorf("parse doctypes: expected array, got %v", tok)
		}
		for dec.More() {
			var dt models.DocType
			if err := dec.Decode(&dt); err != nil {
				return 0, fmt.Errorf("parse doctype: %w", err)
			}
			for _, doc := range dt.Documents {
				batch = append(batch, s.newItem(job, dt.DocType, doc))
				if len(batch) >= stagingFlushSize {
					if err := flush(); err != nil {
						return 0, err
					}
				}
			}
		}
		if _, err := dec.Token(); err != nil {
			return 0, fmt.Errorf("parse doctypes: %w", err)
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}
	return staged, nil
}

// stageCSV consumes the flat staging format. The header is validated before
// any row is staged; a missing required column is a fatal staging error.
func (s *Stager) stageCSV(ctx context.Context, job models.IngestJob, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("%w: empty staging file", ErrInvalidHeader)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return 0, fmt.Errorf("%w: missing required columns: %s", ErrInvalidHeader, strings.Join(missing, ","))
	}

	field := func(record []string, name string) string {
		i := index[name]
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	staged := 0
	batch := make([]models.WorkItem, 0, stagingFlushSize)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read staging row: %w", err)
		}

		doc := models.DescriptorDocument{
			Filepath:  field(record, "filepath"),
			FileGUID:  field(record, "fileguid"),
			Extension: field(record, "extension"),
		}
		item := s.newItem(job, field(record, "doctype"), doc)
		item.Tags = models.ParseTagColumn(field(record, "tag"))
		batch = append(batch, item)

		if len(batch) >= stagingFlushSize {
			n, err := s.flush(ctx, batch)
			if err != nil {
				return 0, err
			}
			staged += n
			batch = batch[:0]
		}
	}

	n, err := s.flush(ctx, batch)
	if err != nil {
		return 0, err
	}
	return staged + n, nil
}

func (s *Stager) newItem(job models.IngestJob, docType string, doc models.DescriptorDocument) models.WorkItem {
	fileGUID := doc.FileGUID
	if fileGUID == "" {
		fileGUID = uuid.NewString()
	}
	return models.WorkItem{
		JobID:     job.ID,
		FileGUID:  fileGUID,
		Filepath:  strings.TrimLeft(strings.ReplaceAll(doc.Filepath, "\\", "/"), "/"),
		Extension: doc.Extension,
		DocType:   docType,
		Tags:      models.NormalizeTagList(doc.Tags),
		Status:    models.ItemPending,
	}
}

func (s *Stager) flush(ctx context.Context, batch []models.WorkItem) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	var staged int
	err := s.policies.Database.Execute(ctx, func(ctx context.Context) error {
		var err error
		staged, err = s.items.StageItems(ctx, batch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("stage work items: %w", err)
	}
	return staged, nil
}
