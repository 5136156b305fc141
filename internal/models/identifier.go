package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Identifier представляет глобально уникальную логическую метку символа.
// Пара (site, clock) выдается ровно один раз: для фиксированного site
// значения clock строго возрастают и никогда не переиспользуются.
type Identifier struct {
	Site  string
	Clock uint64
}

// Сентинельные идентификаторы границ последовательности.
// StartID не имеет родителя; каждый реальный символ достижим из StartID
// по цепочке prev-ссылок.
var (
	StartID = Identifier{Site: "__START__", Clock: 0}
	EndID   = Identifier{Site: "__END__", Clock: math.MaxUint64}
)

// Compare задает тотальный порядок идентификаторов: сначала по clock,
// при равенстве по site (лексикографически). Возвращает -1, 0 или 1.
// Порядок стабилен между процессами: никакой случайности и wall-clock
// зависимости, это единственный tie-break для конкурентных вставок.
func (id Identifier) Compare(other Identifier) int {
	if id.Clock != other.Clock {
		if id.Clock < other.Clock {
			return -1
		}
		return 1
	}
	return strings.Compare(id.Site, other.Site)
}

// Less сообщает, что id строго предшествует other.
func (id Identifier) Less(other Identifier) bool {
	return id.Compare(other) < 0
}

// IsZero сообщает, что идентификатор не заполнен.
func (id Identifier) IsZero() bool {
	return id.Site == "" && id.Clock == 0
}

// String возвращает детерминированную строковую форму "site:clock".
// Обратная операция: ParseIdentifier.
func (id Identifier) String() string {
	return id.Site + ":" + strconv.FormatUint(id.Clock, 10)
}

// ParseIdentifier разбирает строковую форму "site:clock".
func ParseIdentifier(s string) (Identifier, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return Identifier{}, fmt.Errorf("invalid identifier format: %q", s)
	}

	clock, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return Identifier{}, fmt.Errorf("invalid identifier clock in %q: %w", s, err)
	}

	return Identifier{Site: s[:idx], Clock: clock}, nil
}
