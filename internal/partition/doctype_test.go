package partition

import (
	"testing"

	"github.com/jepras/constructionrag/internal/models"
)

func TestClassifyDocumentType(t *testing.T) {
	cases := []struct {
		name  string
		pages []int
		want  models.DocumentType
	}{
		{"native", []int{400, 500, 450}, models.DocNative},
		{"scanned", []int{3, 1, 0}, models.DocScanned},
		{"boundary just below threshold", []int{24, 24, 24}, models.DocScanned},
		{"boundary just above threshold", []int{25, 25, 25}, models.DocNative},
		{"only samples first three pages", []int{500, 500, 500, 0, 0, 0}, models.DocNative},
		{"empty", nil, models.DocScanned},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifyDocumentType(c.pages); got != c.want {
				t.Errorf("ClassifyDocumentType(%v) = %v, want %v", c.pages, got, c.want)
			}
		})
	}
}
