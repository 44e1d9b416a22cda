package archive

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zip"

	"github.com/ligustah/portal/pkg/scratch"
)

// Merge concatenates the entries of the partial archives, in order, into a
// new scratch archive ending in suffix. Entries are copied in their
// compressed form. Each partial is removed once it has been consumed; on
// failure every remaining partial and the output are removed as well.
func Merge(ctx context.Context, dir *scratch.Dir, partials []string, suffix string) (string, error) {
	out, err := dir.Create(suffix)
	if err != nil {
		removeAll(dir, partials)
		return "", err
	}
	name := out.Name()

	zw := zip.NewWriter(out)
	for i, p := range partials {
		if err := ctx.Err(); err != nil {
			out.Close()
			dir.Remove(name)
			removeAll(dir, partials[i:])
			return "", err
		}

		err := copyPartial(dir, zw, p)
		dir.Remove(p)
		if err != nil {
			out.Close()
			dir.Remove(name)
			removeAll(dir, partials[i+1:])
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		dir.Remove(name)
		return "", fmt.Errorf("archive: finish merged archive: %w", err)
	}
	if err := out.Close(); err != nil {
		dir.Remove(name)
		return "", fmt.Errorf("archive: close merged archive: %w", err)
	}

	return name, nil
}

func copyPartial(dir *scratch.Dir, zw *zip.Writer, partial string) error {
	info, err := dir.Stat(partial)
	if err != nil {
		return err
	}
	f, err := dir.Open(partial)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("archive: read partial %s: %w", partial, err)
	}
	for _, entry := range zr.File {
		if err := zw.Copy(entry); err != nil {
			return fmt.Errorf("archive: copy %s from %s: %w", entry.Name, partial, err)
		}
	}
	return nil
}

func removeAll(dir *scratch.Dir, names []string) {
	for _, n := range names {
		dir.Remove(n)
	}
}
