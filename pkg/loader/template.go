package loader

import (
	"fmt"
	"strings"

	"github.com/marmos91/ttableserver/pkg/ttable"
)

const (
	// GenrePlaceholder is replaced by the genre name in a path template.
	GenrePlaceholder = "$GENRE"

	// DirectionPlaceholder is replaced by the language pair in a path template.
	DirectionPlaceholder = "$DIRECTION"

	// AllGenre is the genre name of the aggregate table.
	AllGenre = "ALL"

	// MaxGenres bounds the provenance list; provenance ids must fit in a byte
	// on the client side.
	MaxGenres = 255
)

// Task is one table to load.
type Task struct {
	Provenance ttable.Provenance
	Genre      string
	Path       string
}

// ResolvePath substitutes genre and languagePair into template.
func ResolvePath(template, genre, languagePair string) string {
	return strings.NewReplacer(
		GenrePlaceholder, genre,
		DirectionPlaceholder, languagePair,
	).Replace(template)
}

// ParseProvenances splits a comma-separated genre list. Surrounding blanks
// are trimmed. An empty list is valid and means "aggregate table only".
func ParseProvenances(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}

	parts := strings.Split(list, ",")
	if len(parts) > MaxGenres {
		return nil, fmt.Errorf("provenance list has %d genres, at most %d are supported", len(parts), MaxGenres)
	}

	seen := make(map[string]bool, len(parts))
	genres := make([]string, 0, len(parts))
	for i, p := range parts {
		genre := strings.TrimSpace(p)
		if genre == "" {
			return nil, fmt.Errorf("provenance list entry %d is empty", i)
		}
		if strings.EqualFold(genre, AllGenre) {
			return nil, fmt.Errorf("provenance %q is reserved for the aggregate table", genre)
		}
		if seen[genre] {
			return nil, fmt.Errorf("provenance %q listed twice", genre)
		}
		seen[genre] = true
		genres = append(genres, genre)
	}
	return genres, nil
}

// BuildTasks returns the aggregate task (provenance 0) followed by one task
// per genre, numbered from 1 in list order.
func BuildTasks(template, languagePair string, genres []string) []Task {
	tasks := make([]Task, 0, len(genres)+1)
	tasks = append(tasks, Task{
		Provenance: ttable.ProvenanceAll,
		Genre:      AllGenre,
		Path:       ResolvePath(template, AllGenre, languagePair),
	})
	for i, genre := range genres {
		tasks = append(tasks, Task{
			Provenance: ttable.Provenance(i + 1),
			Genre:      genre,
			Path:       ResolvePath(template, genre, languagePair),
		})
	}
	return tasks
}
