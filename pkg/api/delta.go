package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeltaOpKind определяет вид элемента delta-скрипта.
type DeltaOpKind int

const (
	// DeltaInvalid элемент не распознан (неизвестные ключи, отрицательные
	// счетчики, embed-объекты). Такие элементы пропускаются транслятором.
	DeltaInvalid DeltaOpKind = iota
	// DeltaRetain пропуск n видимых символов
	DeltaRetain
	// DeltaInsert вставка текста
	DeltaInsert
	// DeltaDelete удаление n видимых символов
	DeltaDelete
)

// DeltaOp представляет один элемент delta-скрипта как tagged variant.
// Внешний формат (Quill-совместимый) разбирается один раз на границе,
// дальше по строковым ключам никто не лазает.
type DeltaOp struct {
	Insert     string
	Attributes map[string]any
	Retain     int
	Delete     int
	Kind       DeltaOpKind
}

// Delta представляет delta-скрипт целиком: {"ops":[...]}.
type Delta struct {
	Ops []DeltaOp `json:"ops"`
}

// rawDeltaOp промежуточная форма для JSON разбора
type rawDeltaOp struct {
	Retain     *int            `json:"retain,omitempty"`
	Insert     json.RawMessage `json:"insert,omitempty"`
	Delete     *int            `json:"delete,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// UnmarshalJSON разбирает элемент delta-скрипта в tagged variant.
// Некорректный элемент не является ошибкой: он помечается как
// DeltaInvalid, решение о пропуске принимает транслятор.
func (op *DeltaOp) UnmarshalJSON(data []byte) error {
	var raw rawDeltaOp
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal delta op: %w", err)
	}

	*op = DeltaOp{Kind: DeltaInvalid, Attributes: raw.Attributes}

	switch {
	case raw.Retain != nil:
		if *raw.Retain >= 0 {
			op.Kind = DeltaRetain
			op.Retain = *raw.Retain
		}
	case raw.Insert != nil:
		// Insert обязан быть строкой; embed-объекты (изображения и т.п.)
		// не поддерживаются и считаются некорректным элементом
		var text string
		if err := json.Unmarshal(raw.Insert, &text); err == nil {
			op.Kind = DeltaInsert
			op.Insert = text
		}
	case raw.Delete != nil:
		if *raw.Delete >= 0 {
			op.Kind = DeltaDelete
			op.Delete = *raw.Delete
		}
	}

	return nil
}

// MarshalJSON сериализует элемент обратно во внешний формат.
func (op DeltaOp) MarshalJSON() ([]byte, error) {
	raw := rawDeltaOp{Attributes: op.Attributes}

	switch op.Kind {
	case DeltaRetain:
		raw.Retain = &op.Retain
	case DeltaInsert:
		insert, err := json.Marshal(op.Insert)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal insert text: %w", err)
		}
		raw.Insert = insert
	case DeltaDelete:
		raw.Delete = &op.Delete
	case DeltaInvalid:
		return nil, fmt.Errorf("cannot marshal invalid delta op")
	}

	return json.Marshal(raw)
}

// ParseDelta разбирает delta-скрипт из JSON.
func ParseDelta(data []byte) (Delta, error) {
	var delta Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		return Delta{}, fmt.Errorf("failed to parse delta: %w", err)
	}
	return delta, nil
}

// PlainText возвращает конкатенацию всех insert-элементов.
// Используется при bootstrap, когда сохраненное содержимое документа
// хранится в delta-форме, а CRDT инициализируется из plain text.
func (d Delta) PlainText() string {
	var sb strings.Builder
	for _, op := range d.Ops {
		if op.Kind == DeltaInsert {
			sb.WriteString(op.Insert)
		}
	}
	return sb.String()
}

// IsEmpty сообщает, что delta не содержит ни одного значимого элемента.
func (d Delta) IsEmpty() bool {
	for _, op := range d.Ops {
		if op.Kind != DeltaInvalid {
			return false
		}
	}
	return true
}
