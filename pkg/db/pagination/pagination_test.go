package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPageInfo(t *testing.T) {
	info := BuildPageInfo(Pagination{Page: 2, Limit: 20}, 45)
	assert.Equal(t, 2, info.Page)
	assert.Equal(t, 20, info.Limit)
	assert.EqualValues(t, 45, info.Total)
	assert.True(t, info.HasMore)

	info = BuildPageInfo(Pagination{Page: 3, Limit: 20}, 45)
	assert.False(t, info.HasMore)
}

func TestNormalization(t *testing.T) {
	info := BuildPageInfo(Pagination{Page: 0, Limit: 0}, 5)
	assert.Equal(t, 1, info.Page)
	assert.Equal(t, DefaultLimit, info.Limit)

	info = BuildPageInfo(Pagination{Page: 1, Limit: 10_000}, 5)
	assert.Equal(t, MaxLimit, info.Limit)
}
