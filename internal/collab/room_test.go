package collab

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/collabdocs/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRoom_AddParticipant(t *testing.T) {
	room := NewRoom("doc-1", testLogger())

	p1 := models.NewParticipant("user-1", "alice", "doc-1")
	p2 := models.NewParticipant("user-2", "bob", "doc-1")

	assert.Empty(t, room.AddParticipant(p1))
	assert.Empty(t, room.AddParticipant(p2))

	assert.Equal(t, 2, room.ParticipantCount())
	assert.False(t, room.IsEmpty())
}

func TestRoom_AddParticipant_LastConnectionWins(t *testing.T) {
	room := NewRoom("doc-1", testLogger())

	// Тот же пользователь подключается повторно: старое подключение
	// вытесняется, в комнате остается одно
	old := models.NewParticipant("user-1", "alice", "doc-1")
	fresh := models.NewParticipant("user-1", "alice", "doc-1")

	room.AddParticipant(old)
	evicted := room.AddParticipant(fresh)

	assert.Equal(t, old.ConnectionID, evicted)
	assert.Equal(t, 1, room.ParticipantCount())

	participants := room.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, fresh.ConnectionID, participants[0].ConnectionID)
}

func TestRoom_RemoveParticipant(t *testing.T) {
	room := NewRoom("doc-1", testLogger())
	p := models.NewParticipant("user-1", "alice", "doc-1")
	room.AddParticipant(p)

	removed := room.RemoveParticipant(p.ConnectionID)
	require.NotNil(t, removed)
	assert.Equal(t, p.ConnectionID, removed.ConnectionID)
	assert.True(t, room.IsEmpty())

	// Повторное удаление не ошибка
	assert.Nil(t, room.RemoveParticipant(p.ConnectionID))
	assert.Nil(t, room.RemoveParticipant("unknown-connection"))
}

func TestRoom_SetCreator_FirstWins(t *testing.T) {
	room := NewRoom("doc-1", testLogger())

	room.SetCreator("user-1")
	room.SetCreator("user-2")

	assert.Equal(t, "user-1", room.CreatorUserID())
}

func TestRoom_ApplyDelta(t *testing.T) {
	room := NewRoom("doc-1", testLogger())

	ops := room.ApplyDelta(`{"ops":[{"insert":"hello"}]}`, "site_a")

	assert.Len(t, ops, 5)
	assert.Equal(t, "hello", room.Content())
	assert.True(t, room.IsDirty())
}

func TestRoom_ApplyDelta_Malformed(t *testing.T) {
	room := NewRoom("doc-1", testLogger())

	// Некорректный JSON не роняет комнату: пустой результат, лог
	assert.Nil(t, room.ApplyDelta(`{"ops":`, "site_a"))
	assert.Nil(t, room.ApplyDelta("", "site_a"))

	assert.Equal(t, "", room.Content())
	assert.False(t, room.IsDirty())
}

func TestRoom_ApplyRemote(t *testing.T) {
	room := NewRoom("doc-1", testLogger())

	node := models.NewCharacterNode(models.Identifier{Site: "site_a", Clock: 1}, "x", models.StartID)
	room.ApplyRemote(models.NewInsertOp(node, "site_a", 1, "doc-1"))

	assert.Equal(t, "x", room.Content())
	assert.True(t, room.IsDirty())

	room.ApplyRemote(nil)
	assert.Equal(t, "x", room.Content())
}

func TestRoom_InitContent(t *testing.T) {
	t.Run("Plain text content", func(t *testing.T) {
		room := NewRoom("doc-1", testLogger())

		assert.True(t, room.InitContent("hello"))
		assert.Equal(t, "hello", room.Content())
		assert.True(t, room.ContentInitialized())
		assert.False(t, room.IsDirty(), "bootstrap is not an edit")
	})

	t.Run("Delta content is flattened", func(t *testing.T) {
		room := NewRoom("doc-1", testLogger())

		room.InitContent(`{"ops":[{"insert":"hello "},{"insert":"world"}]}`)
		assert.Equal(t, "hello world", room.Content())
	})

	t.Run("Second init is ignored", func(t *testing.T) {
		room := NewRoom("doc-1", testLogger())

		assert.True(t, room.InitContent("first"))
		assert.False(t, room.InitContent("second"))
		assert.Equal(t, "first", room.Content())
	})

	t.Run("Empty content still marks initialized", func(t *testing.T) {
		room := NewRoom("doc-1", testLogger())

		assert.True(t, room.InitContent(""))
		assert.True(t, room.ContentInitialized())
		assert.False(t, room.InitContent("late"))
	})
}

func TestRoom_DirtyLifecycle(t *testing.T) {
	room := NewRoom("doc-1", testLogger())
	assert.False(t, room.IsDirty())

	room.ApplyDelta(`{"ops":[{"insert":"x"}]}`, "site_a")
	assert.True(t, room.IsDirty())

	room.MarkClean()
	assert.False(t, room.IsDirty())

	// Новая правка снова пачкает комнату
	room.ApplyDelta(`{"ops":[{"retain":1},{"insert":"y"}]}`, "site_a")
	assert.True(t, room.IsDirty())
}

func TestRoom_DeltaContent(t *testing.T) {
	room := NewRoom("doc-1", testLogger())

	assert.Equal(t, `{"ops":[]}`, room.DeltaContent())

	room.ApplyDelta(`{"ops":[{"insert":"hi"}]}`, "site_a")
	assert.JSONEq(t, `{"ops":[{"insert":"hi"}]}`, room.DeltaContent())
}

func TestRoom_Touch(t *testing.T) {
	room := NewRoom("doc-1", testLogger())
	before := room.LastActiveAt()

	room.Touch()
	assert.False(t, room.LastActiveAt().Before(before))
}
