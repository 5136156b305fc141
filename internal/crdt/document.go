package crdt

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/iudanet/collabdocs/internal/models"
	"github.com/iudanet/collabdocs/pkg/api"
)

// Document представляет реплицируемую последовательность символов
// (sequence CRDT семейства RGA).
//
// Ключевые свойства:
//  1. Каждый символ имеет глобально уникальный Identifier (site, clock)
//  2. Порядок символов детерминированно выводится из prev-ссылок и
//     сравнения идентификаторов, без центрального секвенсора
//  3. Удаление ставит tombstone, физически символ остается в store
//  4. Применение операций коммутативно и идемпотентно
//
// Поэтому реплики сходятся к одному состоянию независимо от порядка
// доставки операций.
type Document struct {
	documentID string
	siteID     string
	clock      *LamportClock

	// mu защищает store и кэш линеаризации. Любая мутация store
	// инвалидирует кэш; перестройка выполняется лениво и только
	// под этим же mutex, так что рваный ordered-список не наблюдаем.
	mu         sync.Mutex
	store      map[string]*models.CharacterNode // key: Identifier.String()
	ordered    []*models.CharacterNode
	dirtyCache bool
}

// NewDocument создает пустой документ для заданного site.
func NewDocument(documentID, siteID string) *Document {
	return &Document{
		documentID: documentID,
		siteID:     siteID,
		clock:      NewLamportClock(),
		store:      make(map[string]*models.CharacterNode),
	}
}

// DocumentID возвращает идентификатор документа.
func (d *Document) DocumentID() string {
	return d.documentID
}

// SiteID возвращает site текущей реплики.
func (d *Document) SiteID() string {
	return d.siteID
}

// Clock возвращает текущее значение логических часов.
func (d *Document) Clock() uint64 {
	return d.clock.Current()
}

// InsertAt вставляет символ на видимую позицию index и возвращает
// операцию Insert для репликации. Индекс за пределами [0, visibleLen]
// прижимается к ближайшей границе.
func (d *Document) InsertAt(index int, value string, attrs map[string]any) *models.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()

	visible := d.visibleLocked()
	if index < 0 {
		index = 0
	}
	if index > len(visible) {
		index = len(visible)
	}

	prev := models.StartID
	if index > 0 {
		prev = visible[index-1].ID
	}

	clock := d.clock.Tick()
	node := models.NewCharacterNode(models.Identifier{Site: d.siteID, Clock: clock}, value, prev)
	if len(attrs) > 0 {
		node.MergeAttributes(attrs)
	}

	d.applyInsertLocked(node)

	return models.NewInsertOp(node.Clone(), d.siteID, clock, d.documentID)
}

// DeleteAt ставит tombstone на символ на видимой позиции index
// и возвращает операцию Delete. Индекс за пределами [0, visibleLen)
// не ошибка: возвращается nil, документ не меняется.
func (d *Document) DeleteAt(index int) *models.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()

	visible := d.visibleLocked()
	if index < 0 || index >= len(visible) {
		return nil
	}

	target := visible[index]
	clock := d.clock.Tick()
	d.applyDeleteLocked(target.ID)

	return models.NewDeleteOp(target.ID, d.siteID, clock, d.documentID)
}

// FormatRange вливает атрибуты в каждый видимый символ диапазона
// [startIndex, endIndex), прижатого к границам последовательности.
// Возвращает по одной операции Format на затронутый символ.
func (d *Document) FormatRange(startIndex, endIndex int, attrs map[string]any) []*models.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()

	visible := d.visibleLocked()
	if startIndex < 0 {
		startIndex = 0
	}
	if endIndex > len(visible) {
		endIndex = len(visible)
	}

	var ops []*models.Operation
	for i := startIndex; i < endIndex; i++ {
		node := visible[i]
		clock := d.clock.Tick()
		node.MergeAttributes(attrs)
		ops = append(ops, models.NewFormatOp(node.ID, attrs, d.siteID, clock, d.documentID))
	}

	return ops
}

// ApplyRemote применяет операцию с другой реплики.
// Сначала продвигаются логические часы (правило Лампорта), затем
// операция применяется идемпотентно:
//   - Insert с уже известным идентификатором игнорируется
//   - Delete уже удаленного или неизвестного символа игнорируется
//   - Format неизвестного символа игнорируется молча: символ мог еще
//     не прийти, out-of-order доставка здесь штатная ситуация
func (d *Document) ApplyRemote(op *models.Operation) {
	if op == nil {
		return
	}

	d.clock.Update(op.Clock)

	d.mu.Lock()
	defer d.mu.Unlock()

	switch op.Kind {
	case models.OpInsert:
		if op.Character != nil {
			d.applyInsertLocked(op.Character.Clone())
		}
	case models.OpDelete:
		d.applyDeleteLocked(op.TargetID)
	case models.OpFormat:
		d.applyFormatLocked(op.TargetID, op.Attributes)
	}
}

func (d *Document) applyInsertLocked(node *models.CharacterNode) {
	key := node.ID.String()
	if _, exists := d.store[key]; exists {
		return
	}
	d.store[key] = node
	d.dirtyCache = true
}

func (d *Document) applyDeleteLocked(targetID models.Identifier) {
	target, exists := d.store[targetID.String()]
	if !exists || target.Deleted {
		return
	}
	target.Deleted = true
	d.dirtyCache = true
}

func (d *Document) applyFormatLocked(targetID models.Identifier, attrs map[string]any) {
	if target, exists := d.store[targetID.String()]; exists {
		target.MergeAttributes(attrs)
	}
}

// VisibleSlice возвращает копию видимой (без tombstone) последовательности.
func (d *Document) VisibleSlice() []*models.CharacterNode {
	d.mu.Lock()
	defer d.mu.Unlock()

	visible := d.visibleLocked()
	result := make([]*models.CharacterNode, len(visible))
	for i, node := range visible {
		result[i] = node.Clone()
	}
	return result
}

// VisibleLength возвращает длину видимой последовательности.
func (d *Document) VisibleLength() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.visibleLocked())
}

// Text возвращает текущий текст документа.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var sb strings.Builder
	for _, node := range d.visibleLocked() {
		sb.WriteString(node.Value)
	}
	return sb.String()
}

// Delta возвращает видимую последовательность в delta-форме:
// подряд идущие символы с одинаковым набором атрибутов сливаются
// в один insert-элемент.
func (d *Document) Delta() api.Delta {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ops []api.DeltaOp
	var run strings.Builder
	var runAttrs map[string]any
	started := false

	flush := func() {
		if run.Len() == 0 {
			return
		}
		ops = append(ops, api.DeltaOp{
			Kind:       api.DeltaInsert,
			Insert:     run.String(),
			Attributes: runAttrs,
		})
		run.Reset()
	}

	for _, node := range d.visibleLocked() {
		if !started || !attrsEqual(node.Attributes, runAttrs) {
			flush()
			// Копия: результат переживает d.mu и не должен делить
			// map атрибутов с живыми узлами store
			runAttrs = cloneAttrs(node.Attributes)
			started = true
		}
		run.WriteString(node.Value)
	}
	flush()

	return api.Delta{Ops: ops}
}

// Merge объединяет состояние другой реплики в текущую.
// Для общего идентификатора выигрывает tombstone (удаление никогда не
// откатывается), атрибуты сливаются по ключам. Часы продвигаются до
// max(local, other) без инкремента. Операция коммутативна и
// идемпотентна.
func (d *Document) Merge(other *Document) {
	if other == nil || other == d {
		return
	}

	nodes := other.snapshotNodes()
	otherClock := other.clock.Current()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, node := range nodes {
		key := node.ID.String()
		existing, exists := d.store[key]
		if !exists {
			d.store[key] = node
			continue
		}
		if node.Deleted && !existing.Deleted {
			existing.Deleted = true
		}
		existing.MergeAttributes(node.Attributes)
	}

	d.clock.Forward(otherClock)
	d.dirtyCache = true
}

// snapshotNodes возвращает глубокую копию всех символов store.
func (d *Document) snapshotNodes() []*models.CharacterNode {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes := make([]*models.CharacterNode, 0, len(d.store))
	for _, node := range d.store {
		nodes = append(nodes, node.Clone())
	}
	return nodes
}

// InitFromText очищает документ и строит его заново как линейную
// цепочку: prev каждого символа указывает на предыдущий, у первого
// на StartID. Используется только для bootstrap из внешнего хранилища,
// никогда для слияния.
func (d *Document) InitFromText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.store = make(map[string]*models.CharacterNode, len(text))
	d.clock.Set(0)
	d.dirtyCache = true

	prev := models.StartID
	for _, r := range text {
		clock := d.clock.Tick()
		id := models.Identifier{Site: d.siteID, Clock: clock}
		d.store[id.String()] = models.NewCharacterNode(id, string(r), prev)
		prev = id
	}
}

// visibleLocked возвращает видимую последовательность, лениво
// перестраивая кэш линеаризации. Вызывается только под d.mu.
func (d *Document) visibleLocked() []*models.CharacterNode {
	if d.dirtyCache {
		d.rebuildLocked()
	}

	visible := make([]*models.CharacterNode, 0, len(d.ordered))
	for _, node := range d.ordered {
		if !node.Deleted {
			visible = append(visible, node)
		}
	}
	return visible
}

// rebuildLocked перестраивает кэш линеаризации.
//
// Каноничный глобальный порядок: от StartID обходим дерево prev-ссылок
// в глубину, детей каждого узла посещаем по возрастанию Identifier.
// Порядок детерминирован для фиксированного множества символов
// независимо от порядка их прихода, что и делает вставки коммутативными:
// конкурентные вставки после одного узла становятся соседями,
// упорядоченными только сравнением идентификаторов.
//
// Обход на явном стеке: глубина цепочки последовательных вставок
// одного site равна длине документа, рекурсия здесь не годится.
func (d *Document) rebuildLocked() {
	children := make(map[string][]*models.CharacterNode, len(d.store)+1)
	for _, node := range d.store {
		key := node.PrevID.String()
		children[key] = append(children[key], node)
	}
	for _, siblings := range children {
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].ID.Less(siblings[j].ID)
		})
	}

	type frame struct {
		nodes []*models.CharacterNode
		next  int
	}

	ordered := make([]*models.CharacterNode, 0, len(d.store))
	stack := []frame{{nodes: children[models.StartID.String()]}}

	for len(stack) > 0 {
		top := len(stack) - 1
		if stack[top].next >= len(stack[top].nodes) {
			stack = stack[:top]
			continue
		}
		node := stack[top].nodes[stack[top].next]
		stack[top].next++
		ordered = append(ordered, node)
		if kids := children[node.ID.String()]; len(kids) > 0 {
			stack = append(stack, frame{nodes: kids})
		}
	}

	d.ordered = ordered
	d.dirtyCache = false
}

// cloneAttrs возвращает независимую копию набора атрибутов.
func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	clone := make(map[string]any, len(attrs))
	for k, v := range attrs {
		clone[k] = v
	}
	return clone
}

// attrsEqual сравнивает наборы атрибутов; nil и пустая map считаются
// равными.
func attrsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
