package common

import (
	"strings"
	"text/tabwriter"
)

// Format rows of cells as a plain text table with aligned columns,
// one line per row
func FormatTable(rows [][]string) string {
	var builder strings.Builder
	writer := tabwriter.NewWriter(&builder, 0, 0, 1, ' ', 0)
	for _, row := range rows {
		writer.Write([]byte(strings.Join(row, "\t") + "\n"))
	}
	writer.Flush()
	return builder.String()
}

// Split the provided elements into chunks whose joined length
// does not exceed the limit. A single element longer than the limit
// gets its own chunk and is truncated
func ChunkElements(elements []string, separator string, limit int) []string {
	chunks := []string{}
	current := ""
	for _, element := range elements {
		if len(element) > limit {
			element = element[:limit]
		}
		if current == "" {
			current = element
			continue
		}
		if len(current)+len(separator)+len(element) > limit {
			chunks = append(chunks, current)
			current = element
			continue
		}
		current += separator + element
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
