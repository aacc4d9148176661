package shared

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3}, p)
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 10, 45)
	assert.Equal(t, 5, p.TotalPages)
	assert.Equal(t, 20, p.Offset())

	assert.Equal(t, 200, NewPagination(1, 5000, 0).PerPage)
}

func TestPageParams(t *testing.T) {
	page, perPage := PageParams(httptest.NewRequest("GET", "/x?page=4&per_page=15", nil))
	assert.Equal(t, 4, page)
	assert.Equal(t, 15, perPage)

	page, perPage = PageParams(httptest.NewRequest("GET", "/x?page=abc", nil))
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, perPage)
}
