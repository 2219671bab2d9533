package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestFromContextClamps(t *testing.T) {
	tests := []struct {
		query string
		want  Query
	}{
		{"", Query{Page: 1, Size: DefaultSize}},
		{"?page=3&size=5", Query{Page: 3, Size: 5}},
		{"?page=-1&size=0", Query{Page: 1, Size: DefaultSize}},
		{"?page=x&size=1000", Query{Page: 1, Size: MaxSize}},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/"+tt.query, nil)
		assert.Equal(t, tt.want, FromContext(c), tt.query)
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, meta := Slice(items, Query{Page: 2, Size: 2})
	assert.Equal(t, []int{3, 4}, page)
	assert.EqualValues(t, 5, meta.Total)
	assert.Equal(t, 3, meta.TotalPage)
	assert.True(t, meta.HasNextPage)

	page, meta = Slice(items, Query{Page: 3, Size: 2})
	assert.Equal(t, []int{5}, page)
	assert.False(t, meta.HasNextPage)

	page, _ = Slice(items, Query{Page: 9, Size: 2})
	assert.Empty(t, page)

	page, meta = Slice([]int(nil), Query{Page: 1, Size: 10})
	assert.Empty(t, page)
	assert.Zero(t, meta.TotalPage)
}
