package crdt

import (
	"log/slog"

	"github.com/iudanet/collabdocs/internal/models"
	"github.com/iudanet/collabdocs/pkg/api"
)

// Translator конвертирует внешний delta-скрипт (retain/insert/delete)
// в последовательность символьных CRDT операций над документом.
//
// Транслятор best-effort: некорректные элементы скрипта пропускаются
// с записью в лог, частично примененный результат предпочтительнее
// полного отказа.
type Translator struct {
	doc    *Document
	logger *slog.Logger
}

// NewTranslator создает транслятор для документа.
func NewTranslator(doc *Document, logger *slog.Logger) *Translator {
	return &Translator{
		doc:    doc,
		logger: logger,
	}
}

// Apply применяет delta-скрипт к документу и возвращает все
// сгенерированные операции в порядке применения.
//
// Курсор ходит по видимой последовательности:
//   - retain n: курсор += n
//   - insert text: посимвольная вставка со смещением, так что
//     многосимвольная вставка образует внутренне упорядоченную цепочку;
//     курсор += len(text)
//   - delete n: n удалений на месте курсора, без продвижения между
//     вызовами (последующие символы сдвигаются влево сами)
func (t *Translator) Apply(delta api.Delta) []*models.Operation {
	ops := make([]*models.Operation, 0)
	cursor := 0

	for i, entry := range delta.Ops {
		switch entry.Kind {
		case api.DeltaRetain:
			cursor += entry.Retain

		case api.DeltaInsert:
			offset := 0
			for _, r := range entry.Insert {
				if op := t.doc.InsertAt(cursor+offset, string(r), entry.Attributes); op != nil {
					ops = append(ops, op)
				}
				offset++
			}
			cursor += offset

		case api.DeltaDelete:
			for j := 0; j < entry.Delete; j++ {
				if op := t.doc.DeleteAt(cursor); op != nil {
					ops = append(ops, op)
				}
			}

		default:
			t.logger.Warn("skipping malformed delta entry",
				"document_id", t.doc.DocumentID(),
				"entry_index", i,
			)
		}
	}

	return ops
}
