package catalog

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/markup"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// Parser extracts every Record from a catalog page, skipping fragments that
// fail record-level validation.
type Parser struct {
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewParser builds a Parser reporting skips to emitter.
func NewParser(emitter progress.Emitter, logger *zap.Logger) *Parser {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{emitter: emitter, logger: logger}
}

// ParsePageText parses raw page markup and extracts its records. It only
// fails when the markup cannot be read at all.
func (p *Parser) ParsePageText(page int, text string) ([]Record, error) {
	doc, err := markup.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	return p.ParsePage(page, doc), nil
}

// ParsePage extracts records from an already parsed page, in fragment order.
// A page without product fragments yields an empty result.
func (p *Parser) ParsePage(page int, doc markup.Node) []Record {
	fragments := doc.FindAll(FragmentSelector)
	out := make([]Record, 0, len(fragments))
	for i, fragment := range fragments {
		rec, err := Extract(fragment)
		if err != nil {
			p.skip(page, i, err)
			continue
		}
		out = append(out, rec)
	}
	p.emitter.Emit(progress.Event{
		Stage:   progress.StagePageParsed,
		Page:    page,
		Records: len(out),
	})
	return out
}

func (p *Parser) skip(page, index int, err error) {
	kind := KindName(err)
	title := titleOf(err)
	if !Recoverable(err) {
		// Extract only produces record-level kinds.
		p.logger.Error("unexpected extraction failure",
			zap.Int("page", page), zap.Int("fragment", index), zap.Error(err))
	}
	p.logger.Debug("skipping product fragment",
		zap.Int("page", page),
		zap.Int("fragment", index),
		zap.String("kind", kind),
		zap.String("title", title),
		zap.Error(err),
	)
	p.emitter.Emit(progress.Event{
		Stage: progress.StageRecordSkipped,
		Page:  page,
		Kind:  kind,
		Title: title,
		Note:  err.Error(),
	})
}
