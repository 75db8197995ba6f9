package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Normalize hoists wrapper directories out of dir.
//
// Every immediate child directory of dir whose name is in wrappers is renamed
// aside, its contents are merged into dir (directories merge recursively, files
// overwrite on collision) and the emptied wrapper is removed. The scan repeats
// until no wrapper child remains, so nested wrappers such as rules/data/ are
// flattened fully and a second call is a no-op.
func Normalize(dir string, wrappers []string) error {
	if len(wrappers) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(wrappers))
	for _, w := range wrappers {
		set[w] = struct{}{}
	}

	for {
		hoisted, err := hoistOnce(dir, set)
		if err != nil {
			return err
		}
		if !hoisted {
			return nil
		}
	}
}

// hoistOnce hoists every wrapper currently present in dir and reports whether any was found.
func hoistOnce(dir string, wrappers map[string]struct{}) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("normalize %s: %w", dir, err)
	}

	hoisted := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := wrappers[e.Name()]; !ok {
			continue
		}
		wrapper := filepath.Join(dir, e.Name())
		// The wrapper may itself contain an entry with its own name.
		aside, err := asideName(dir, e.Name())
		if err != nil {
			return false, err
		}
		if err := os.Rename(wrapper, aside); err != nil {
			return false, fmt.Errorf("normalize %s: %w", wrapper, err)
		}
		if err := mergeInto(aside, dir); err != nil {
			return false, err
		}
		if err := os.RemoveAll(aside); err != nil {
			return false, fmt.Errorf("normalize %s: %w", aside, err)
		}
		hoisted = true
	}
	return hoisted, nil
}

// asideName returns an unused hidden sibling name for a wrapper being hoisted.
func asideName(dir, name string) (string, error) {
	for i := 0; i < 1000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf(".hoist-%s-%d", name, i))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("normalize %s: no free name to hoist %q", dir, name)
}

// mergeInto moves every entry of src into dst. Existing directories are merged,
// anything else at the destination is replaced.
func mergeInto(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("merge %s: %w", src, err)
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		existing, statErr := os.Lstat(to)
		switch {
		case os.IsNotExist(statErr):
			// free slot
		case statErr != nil:
			return fmt.Errorf("merge %s: %w", to, statErr)
		case e.IsDir() && existing.IsDir():
			if err := mergeInto(from, to); err != nil {
				return err
			}
			continue
		default:
			if err := os.RemoveAll(to); err != nil {
				return fmt.Errorf("merge %s: %w", to, err)
			}
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("merge %s: %w", from, err)
		}
	}
	return nil
}
