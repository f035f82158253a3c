package partition

const (
	maxTableCellChars   = 5000
	maxTableColumns     = 20
	maxRepeatedRowRatio = 0.7
	maxImageAreaRatio   = 0.6
	minTableConfidence  = 0.3
)

// ValidateTable applies §4.6's table scoring rules. imageAreaRatio is the
// fraction of the page's rendered area occupied by raster/drawing content;
// pages above maxImageAreaRatio are considered drawing-heavy and their
// candidate tables are discarded regardless of shape.
func ValidateTable(rows [][]string, confidence, imageAreaRatio float64) bool {
	if confidence < minTableConfidence {
		return false
	}
	if imageAreaRatio > maxImageAreaRatio {
		return false
	}
	if len(rows) == 0 {
		return false
	}

	maxCols := 0
	for _, row := range rows {
		if len(row) > maxCols {
			maxCols = len(row)
		}
		for _, cell := range row {
			if len(cell) > maxTableCellChars {
				return false
			}
		}
	}
	if maxCols > maxTableColumns {
		return false
	}

	if repeatedContentRatio(rows) > maxRepeatedRowRatio {
		return false
	}
	return true
}

// repeatedContentRatio is the fraction of rows that duplicate another row's
// joined content, used to discard tables that are really repeated
// boilerplate (headers/footers misdetected as tabular content).
func repeatedContentRatio(rows [][]string) float64 {
	if len(rows) < 2 {
		return 0
	}
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		key := joinRow(row)
		seen[key]++
	}
	duplicates := 0
	for _, count := range seen {
		if count > 1 {
			duplicates += count
		}
	}
	return float64(duplicates) / float64(len(rows))
}

func joinRow(row []string) string {
	out := ""
	for i, cell := range row {
		if i > 0 {
			out += "\x1f"
		}
		out += cell
	}
	return out
}
