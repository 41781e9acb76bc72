package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, DefaultLimit, NormalizeLimit(-5))
	require.Equal(t, 7, NormalizeLimit(7))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	require.Equal(t, 8, LimitWithBuffer(7))
}

func TestCursorTokenIsURLSafe(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2026, 3, 1, 8, 30, 0, 123, time.FixedZone("ICT", 7*3600)), ID: uuid.New()}
	token := EncodeCursor(c)
	require.NotContains(t, token, "+")
	require.NotContains(t, token, "/")
	require.NotContains(t, token, "=")

	parsed, err := ParseCursor(token)
	require.NoError(t, err)
	require.True(t, parsed.CreatedAt.Equal(c.CreatedAt))
	require.Equal(t, c.ID, parsed.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	parsed, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, parsed)

	for _, token := range []string{"bad", "!!!", EncodeCursor(Cursor{})[:4]} {
		_, err := ParseCursor(token)
		require.Error(t, err, token)
		require.True(t, errors.Is(err, ErrInvalidCursor), token)
	}
}

type row struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time
}

func TestKeysetWalksNewestFirst(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:pagination_keyset?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&row{}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&row{ID: uuid.New(), CreatedAt: base.Add(time.Duration(i) * time.Minute)}).Error)
	}

	var seen []time.Time
	var cursor *Cursor
	for pages := 0; pages < 5; pages++ {
		var rows []row
		require.NoError(t, db.Scopes(Keyset("", cursor, 2)).Find(&rows).Error)
		rows, next := Trim(rows, 2, func(r row) Cursor { return Cursor{CreatedAt: r.CreatedAt, ID: r.ID} })
		for _, r := range rows {
			seen = append(seen, r.CreatedAt)
		}
		if next == nil {
			break
		}
		cursor = next
	}

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		require.True(t, seen[i].Before(seen[i-1]), "page order broken at %d", i)
	}
	require.Empty(t, Token(nil))
}
