package validation

import (
	"fmt"
	"regexp"
)

// DocumentIDPattern определяет допустимый формат идентификатора документа
// Латинские буквы, цифры, дефис, нижнее подчеркивание; длина 1-64
var DocumentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// MaxDocumentIDLen максимальная длина идентификатора документа
const MaxDocumentIDLen = 64

// ValidateDocumentID проверяет идентификатор документа из handshake URL.
// Идентификатор приходит из пути запроса до всякой авторизации, поэтому
// проверяется жестко.
func ValidateDocumentID(documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	if len(documentID) > MaxDocumentIDLen {
		return fmt.Errorf("document id must not exceed %d characters", MaxDocumentIDLen)
	}

	if !DocumentIDPattern.MatchString(documentID) {
		return fmt.Errorf("document id can only contain letters, numbers, hyphens and underscores")
	}

	return nil
}
