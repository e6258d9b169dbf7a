package pipeline

import (
	"os"
	"strings"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/stage"
)

// ReadSubjects reads a plain-text subject list: one ID per line, with or
// without the sub- prefix. Blank lines are skipped.
func ReadSubjects(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, stage.MissingInput(path, "subject list not found")
	}
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		id := artifact.TrimPrefix(strings.TrimSpace(line), "sub")
		if id == "" {
			continue
		}
		if seen[id] {
			return nil, stage.Invalid("subject %s listed twice in %s", id, path)
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, stage.Invalid("subject list %s is empty", path)
	}
	return out, nil
}

// SelectSubjects keeps the maps of the listed subjects, in list order.
// Every listed subject must have exactly one map.
func SelectSubjects(paths, subjects []string) ([]string, error) {
	bySubject := make(map[string]string, len(paths))
	for _, p := range paths {
		k, err := artifact.Parse(p)
		if err != nil {
			return nil, stage.Invalid("%v", err)
		}
		if k.Subject == "" {
			return nil, stage.Invalid("%s is not a subject map", p)
		}
		if prev, dup := bySubject[k.Subject]; dup {
			return nil, stage.Mismatch("subject %s has two maps: %s and %s", k.Subject, prev, p)
		}
		bySubject[k.Subject] = p
	}
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		p, ok := bySubject[s]
		if !ok {
			return nil, stage.MissingInput("", "no map for listed subject %s", s)
		}
		out = append(out, p)
	}
	return out, nil
}
