package wbdclip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

func chunkFile(dir string, index int) string {
	return filepath.Join(dir, Chunk{Index: index}.Name()+".txt")
}

// WriteChunks writes one text file per chunk into dir, one item per line.
// Every chunk file is replaced atomically, so units of an earlier array
// always read a complete chunk. Chunk files beyond the new plan are removed
// afterwards.
func WriteChunks(dir string, plan Plan) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}
	for _, c := range plan.Chunks {
		dst := chunkFile(dir, c.Index)
		if err := writeFileAtomic(dst, []byte(strings.Join(c.Items, "\n")+"\n")); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
	}
	old, err := filepath.Glob(filepath.Join(dir, "chunk_*.txt"))
	if err != nil {
		return err
	}
	for _, o := range old {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(o), "chunk_%d.txt", &idx); err != nil || idx < len(plan.Chunks) {
			continue
		}
		if err := os.Remove(o); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", o, err)
		}
	}
	return nil
}

// ReadChunk reads back the chunk with the given index
func ReadChunk(dir string, index int) (Chunk, error) {
	name := chunkFile(dir, index)
	f, err := os.Open(name)
	if err != nil {
		return Chunk{}, fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()
	items, err := readLines(f)
	if err != nil {
		return Chunk{}, fmt.Errorf("read %s: %w", name, err)
	}
	return Chunk{Index: index, Items: items}, nil
}

// ReadChunks reads back all chunks of a plan, in index order
func ReadChunks(dir string) ([]Chunk, error) {
	var chunks []Chunk
	for i := 0; ; i++ {
		c, err := ReadChunk(dir, i)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunk files in %s", dir)
	}
	return chunks, nil
}

// writeFileAtomic writes data to a unique sibling of dst and renames it into place
func writeFileAtomic(dst string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
