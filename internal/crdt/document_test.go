package crdt

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/collabdocs/internal/models"
	"github.com/iudanet/collabdocs/pkg/api"
)

func TestDocument_InsertAt(t *testing.T) {
	doc := NewDocument("doc-1", "site_a")

	op1 := doc.InsertAt(0, "H", nil)
	op2 := doc.InsertAt(1, "i", nil)

	require.NotNil(t, op1)
	require.NotNil(t, op2)
	assert.Equal(t, models.OpInsert, op1.Kind)
	assert.Equal(t, "Hi", doc.Text())
	assert.Equal(t, 2, doc.VisibleLength())

	// Вставка в середину
	doc.InsertAt(1, "e", nil)
	assert.Equal(t, "Hei", doc.Text())
}

func TestDocument_InsertAt_ClampsIndex(t *testing.T) {
	doc := NewDocument("doc-1", "site_a")
	doc.InsertAt(0, "a", nil)
	doc.InsertAt(1, "b", nil)

	// Отрицательный индекс прижимается к началу
	doc.InsertAt(-5, "x", nil)
	assert.Equal(t, "xab", doc.Text())

	// Индекс за концом прижимается к концу
	doc.InsertAt(100, "z", nil)
	assert.Equal(t, "xabz", doc.Text())
}

func TestDocument_DeleteAt(t *testing.T) {
	doc := NewDocument("doc-1", "site_a")
	doc.InsertAt(0, "a", nil)
	doc.InsertAt(1, "b", nil)
	doc.InsertAt(2, "c", nil)

	op := doc.DeleteAt(1)
	require.NotNil(t, op)
	assert.Equal(t, models.OpDelete, op.Kind)
	assert.Equal(t, "ac", doc.Text())

	// Tombstone: символ физически остается, но не виден
	assert.Equal(t, 2, doc.VisibleLength())
}

func TestDocument_DeleteAt_OutOfRange(t *testing.T) {
	doc := NewDocument("doc-1", "site_a")
	doc.InsertAt(0, "a", nil)

	// Выход за диапазон не ошибка и не мутация
	assert.Nil(t, doc.DeleteAt(-1))
	assert.Nil(t, doc.DeleteAt(1))
	assert.Nil(t, doc.DeleteAt(100))
	assert.Equal(t, "a", doc.Text())
}

func TestDocument_FormatRange(t *testing.T) {
	doc := NewDocument("doc-1", "site_a")
	doc.InsertAt(0, "a", nil)
	doc.InsertAt(1, "b", nil)
	doc.InsertAt(2, "c", nil)

	ops := doc.FormatRange(0, 2, map[string]any{"bold": true})
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.Equal(t, models.OpFormat, op.Kind)
		assert.Equal(t, map[string]any{"bold": true}, op.Attributes)
	}

	visible := doc.VisibleSlice()
	require.Len(t, visible, 3)
	assert.Equal(t, map[string]any{"bold": true}, visible[0].Attributes)
	assert.Equal(t, map[string]any{"bold": true}, visible[1].Attributes)
	assert.Nil(t, visible[2].Attributes)
}

func TestDocument_FormatRange_ClampsRange(t *testing.T) {
	doc := NewDocument("doc-1", "site_a")
	doc.InsertAt(0, "a", nil)

	ops := doc.FormatRange(-3, 10, map[string]any{"italic": true})
	require.Len(t, ops, 1)
	assert.Equal(t, map[string]any{"italic": true}, doc.VisibleSlice()[0].Attributes)
}

func TestDocument_ApplyRemote_Idempotent(t *testing.T) {
	source := NewDocument("doc-1", "site_a")
	replica := NewDocument("doc-1", "site_b")

	insert := source.InsertAt(0, "x", nil)

	// Повторная доставка той же операции не дублирует символ
	replica.ApplyRemote(insert)
	replica.ApplyRemote(insert)
	replica.ApplyRemote(insert)
	assert.Equal(t, "x", replica.Text())

	del := source.DeleteAt(0)
	replica.ApplyRemote(del)
	replica.ApplyRemote(del)
	assert.Equal(t, "", replica.Text())
}

func TestDocument_ApplyRemote_Commutative(t *testing.T) {
	source := NewDocument("doc-1", "site_a")
	op1 := source.InsertAt(0, "a", nil)
	op2 := source.InsertAt(1, "b", nil)
	op3 := source.InsertAt(2, "c", nil)
	op4 := source.DeleteAt(1)

	// Прямой порядок
	forward := NewDocument("doc-1", "site_f")
	for _, op := range []*models.Operation{op1, op2, op3, op4} {
		forward.ApplyRemote(op)
	}

	// Вставки переставлены между собой; удаление по-прежнему после
	// своей вставки (каузальный порядок доставки)
	backward := NewDocument("doc-1", "site_b")
	for _, op := range []*models.Operation{op3, op1, op2, op4} {
		backward.ApplyRemote(op)
	}

	assert.Equal(t, source.Text(), forward.Text())
	assert.Equal(t, source.Text(), backward.Text())
	assert.Equal(t, "ac", forward.Text())
}

func TestDocument_ApplyRemote_AdvancesClock(t *testing.T) {
	source := NewDocument("doc-1", "site_a")
	replica := NewDocument("doc-1", "site_b")

	source.InsertAt(0, "a", nil)
	source.InsertAt(1, "b", nil)
	op := source.InsertAt(2, "c", nil)

	replica.ApplyRemote(op)

	// Часы реплики обогнали удаленный clock: следующий локальный
	// идентификатор не может пересечься с уже виденным
	assert.Greater(t, replica.Clock(), op.Clock)
}

func TestDocument_ApplyRemote_FormatUnknownTarget(t *testing.T) {
	doc := NewDocument("doc-1", "site_a")
	doc.InsertAt(0, "a", nil)

	// Format неизвестного символа игнорируется молча: out-of-order
	// доставка штатная ситуация
	doc.ApplyRemote(models.NewFormatOp(
		models.Identifier{Site: "site_b", Clock: 99},
		map[string]any{"bold": true},
		"site_b", 99, "doc-1",
	))

	assert.Equal(t, "a", doc.Text())
	assert.Nil(t, doc.VisibleSlice()[0].Attributes)
}

func TestDocument_ConcurrentInserts_DeterministicOrder(t *testing.T) {
	// Два site конкурентно вставляют в пустой документ. Порядок
	// определяется только сравнением идентификаторов (clock, site) и
	// одинаков на обеих репликах.
	docA := NewDocument("doc-1", "site_a")
	docB := NewDocument("doc-1", "site_b")

	opA := docA.InsertAt(0, "A", nil)
	opB := docB.InsertAt(0, "B", nil)

	docA.ApplyRemote(opB)
	docB.ApplyRemote(opA)

	assert.Equal(t, docA.Text(), docB.Text())
	// Равные clock, tie-break по site: site_a < site_b
	assert.Equal(t, "AB", docA.Text())
}

func TestDocument_ConcurrentEdits_Converge(t *testing.T) {
	docA := NewDocument("doc-1", "site_a")
	docB := NewDocument("doc-1", "site_b")

	// Общая база "Hi"
	base1 := docA.InsertAt(0, "H", nil)
	base2 := docA.InsertAt(1, "i", nil)
	docB.ApplyRemote(base1)
	docB.ApplyRemote(base2)

	// Конкурентные правки: A дописывает "!", B удаляет "i"
	opA := docA.InsertAt(2, "!", nil)
	opB := docB.DeleteAt(1)

	docA.ApplyRemote(opB)
	docB.ApplyRemote(opA)

	assert.Equal(t, docA.Text(), docB.Text())
	assert.Equal(t, "H!", docA.Text())
}

func TestDocument_Merge(t *testing.T) {
	t.Run("Merge converges both replicas", func(t *testing.T) {
		docA := NewDocument("doc-1", "site_a")
		docB := NewDocument("doc-1", "site_b")

		docA.InsertAt(0, "a", nil)
		docB.InsertAt(0, "b", nil)

		docA.Merge(docB)
		docB.Merge(docA)

		assert.Equal(t, docA.Text(), docB.Text())
	})

	t.Run("Tombstone wins", func(t *testing.T) {
		docA := NewDocument("doc-1", "site_a")
		docB := NewDocument("doc-1", "site_b")

		op := docA.InsertAt(0, "x", nil)
		docB.ApplyRemote(op)
		docB.DeleteAt(0)

		// После слияния удаление не откатывается, в какую бы сторону
		// ни сливали
		docA.Merge(docB)
		assert.Equal(t, "", docA.Text())

		docB.Merge(docA)
		assert.Equal(t, "", docB.Text())
	})

	t.Run("Merge is idempotent", func(t *testing.T) {
		docA := NewDocument("doc-1", "site_a")
		docB := NewDocument("doc-1", "site_b")

		docA.InsertAt(0, "a", nil)
		docB.InsertAt(0, "b", nil)

		docA.Merge(docB)
		text := docA.Text()
		docA.Merge(docB)
		assert.Equal(t, text, docA.Text())
	})

	t.Run("Merge advances clock without increment", func(t *testing.T) {
		docA := NewDocument("doc-1", "site_a")
		docB := NewDocument("doc-1", "site_b")

		docB.InsertAt(0, "a", nil)
		docB.InsertAt(1, "b", nil)
		docB.InsertAt(2, "c", nil)

		docA.Merge(docB)
		assert.Equal(t, docB.Clock(), docA.Clock())
	})

	t.Run("Merge with nil and self is a no-op", func(t *testing.T) {
		doc := NewDocument("doc-1", "site_a")
		doc.InsertAt(0, "a", nil)

		doc.Merge(nil)
		doc.Merge(doc)
		assert.Equal(t, "a", doc.Text())
	})
}

func TestDocument_InitFromText(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "Simple ASCII", text: "hello"},
		{name: "Empty string", text: ""},
		{name: "Multi-byte runes", text: "привет, 世界"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument("doc-1", "server")
			doc.InitFromText(tt.text)

			assert.Equal(t, tt.text, doc.Text())
			assert.Equal(t, len([]rune(tt.text)), doc.VisibleLength())
		})
	}
}

func TestDocument_InitFromText_ResetsState(t *testing.T) {
	doc := NewDocument("doc-1", "server")
	doc.InsertAt(0, "o", nil)
	doc.InsertAt(1, "l", nil)
	doc.InsertAt(2, "d", nil)

	doc.InitFromText("new")

	assert.Equal(t, "new", doc.Text())
	// Часы перезапущены: clock равен числу символов
	assert.Equal(t, uint64(3), doc.Clock())
}

func TestDocument_InitFromText_EditableAfterInit(t *testing.T) {
	doc := NewDocument("doc-1", "server")
	doc.InitFromText("ac")

	doc.InsertAt(1, "b", nil)
	assert.Equal(t, "abc", doc.Text())

	doc.DeleteAt(2)
	assert.Equal(t, "ab", doc.Text())
}

func TestDocument_Delta(t *testing.T) {
	t.Run("Empty document", func(t *testing.T) {
		doc := NewDocument("doc-1", "site_a")
		assert.Empty(t, doc.Delta().Ops)
	})

	t.Run("Uniform text collapses to one insert", func(t *testing.T) {
		doc := NewDocument("doc-1", "site_a")
		doc.InitFromText("hello")

		delta := doc.Delta()
		require.Len(t, delta.Ops, 1)
		assert.Equal(t, api.DeltaInsert, delta.Ops[0].Kind)
		assert.Equal(t, "hello", delta.Ops[0].Insert)
	})

	t.Run("Attribute change splits runs", func(t *testing.T) {
		doc := NewDocument("doc-1", "site_a")
		doc.InitFromText("abcd")
		doc.FormatRange(1, 3, map[string]any{"bold": true})

		delta := doc.Delta()
		require.Len(t, delta.Ops, 3)
		assert.Equal(t, "a", delta.Ops[0].Insert)
		assert.Nil(t, delta.Ops[0].Attributes)
		assert.Equal(t, "bc", delta.Ops[1].Insert)
		assert.Equal(t, map[string]any{"bold": true}, delta.Ops[1].Attributes)
		assert.Equal(t, "d", delta.Ops[2].Insert)
	})

	t.Run("Tombstones excluded", func(t *testing.T) {
		doc := NewDocument("doc-1", "site_a")
		doc.InitFromText("abc")
		doc.DeleteAt(1)

		delta := doc.Delta()
		require.Len(t, delta.Ops, 1)
		assert.Equal(t, "ac", delta.Ops[0].Insert)
	})

	t.Run("Attributes detached from document state", func(t *testing.T) {
		doc := NewDocument("doc-1", "site_a")
		doc.InitFromText("ab")
		doc.FormatRange(0, 2, map[string]any{"bold": true})

		delta := doc.Delta()
		require.Len(t, delta.Ops, 1)

		// Форматирование после снятия delta не должно менять уже
		// выданный результат
		doc.FormatRange(0, 2, map[string]any{"color": "red"})

		assert.Equal(t, map[string]any{"bold": true}, delta.Ops[0].Attributes)
	})
}

func TestDocument_Delta_ConcurrentFormat(t *testing.T) {
	// Delta отдается наружу и сериализуется без удержания блокировки
	// документа, поэтому ее атрибуты не должны делить map с живыми
	// узлами: параллельный FormatRange не имеет права гонять Marshal
	doc := NewDocument("doc-1", "site_a")
	doc.InitFromText("abcdef")
	doc.FormatRange(0, 6, map[string]any{"bold": true})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			doc.FormatRange(0, 6, map[string]any{"shade": i})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			delta := doc.Delta()
			if _, err := json.Marshal(delta); err != nil {
				t.Errorf("marshal delta: %v", err)
				return
			}
		}
	}()

	wg.Wait()
}

func TestDocument_LongSequentialChain(t *testing.T) {
	// Цепочка последовательных вставок одного site: глубина дерева
	// prev-ссылок равна длине документа, линеаризация не должна падать
	doc := NewDocument("doc-1", "site_a")
	const n = 10000
	for i := 0; i < n; i++ {
		doc.InsertAt(i, "x", nil)
	}
	assert.Equal(t, n, doc.VisibleLength())
}
