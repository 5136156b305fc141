package models

// CharacterNode представляет один символ реплицируемой последовательности.
// Запись иммутабельна по идентификатору: после создания могут меняться
// только Deleted (монотонно, false -> true) и Attributes (merge по ключам).
type CharacterNode struct {
	ID         Identifier
	PrevID     Identifier
	Value      string
	Attributes map[string]any
	Deleted    bool
}

// NewCharacterNode создает живой (не удаленный) символ, вставленный
// после prev. Для первого символа документа prev равен StartID.
func NewCharacterNode(id Identifier, value string, prev Identifier) *CharacterNode {
	return &CharacterNode{
		ID:     id,
		Value:  value,
		PrevID: prev,
	}
}

// Clone создает глубокую копию символа.
func (c *CharacterNode) Clone() *CharacterNode {
	clone := &CharacterNode{
		ID:      c.ID,
		PrevID:  c.PrevID,
		Value:   c.Value,
		Deleted: c.Deleted,
	}
	if c.Attributes != nil {
		clone.Attributes = make(map[string]any, len(c.Attributes))
		for k, v := range c.Attributes {
			clone.Attributes[k] = v
		}
	}
	return clone
}

// MergeAttributes вливает атрибуты в символ по ключам.
// Last-writer-wins на уровне отдельного ключа: атрибуты не являются
// основным предметом консистентности.
func (c *CharacterNode) MergeAttributes(attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	if c.Attributes == nil {
		c.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		c.Attributes[k] = v
	}
}
