package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// FileScriptGenerator writes one batch script per distinct job shape. Each script only sleeps for the job's
// duration, so a job holds its nodes for exactly the planned time.
type FileScriptGenerator struct {
	dir   string
	cache *lru.Cache
	// serialises writes of the same script
	mu sync.Mutex
}

func NewFileScriptGenerator(dir string, cacheSize int) (*FileScriptGenerator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create script directory %s", dir)
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &FileScriptGenerator{dir: dir, cache: cache}, nil
}

func (g *FileScriptGenerator) Generate(nodes int, durationMinutes int, queue string) (string, error) {
	name := scriptName(nodes, durationMinutes, queue)
	if path, ok := g.cache.Get(name); ok {
		return path.(string), nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	path := filepath.Join(g.dir, name)
	if err := os.WriteFile(path, []byte(renderScript(nodes, durationMinutes, queue)), 0o755); err != nil {
		return "", errors.Wrapf(err, "could not write script %s", path)
	}
	g.cache.Add(name, path)
	return path, nil
}

func scriptName(nodes int, durationMinutes int, queue string) string {
	safeQueue := strings.Map(func(r rune) rune {
		if r == '/' || r == ' ' {
			return '_'
		}
		return r
	}, queue)
	return fmt.Sprintf("job_%dn_%dmin_%s.slurm", nodes, durationMinutes, safeQueue)
}

func renderScript(nodes int, durationMinutes int, queue string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=jt_%dn_%dmin\n", nodes, durationMinutes)
	fmt.Fprintf(&b, "#SBATCH --nodes=%d\n", nodes)
	fmt.Fprintf(&b, "#SBATCH --partition=%s\n", queue)
	fmt.Fprintf(&b, "#SBATCH --time=%d\n", durationMinutes+1)
	b.WriteString("#SBATCH --exclusive\n")
	b.WriteString("#SBATCH --output=%j.out\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "sleep %d\n", durationMinutes*60)
	return b.String()
}
