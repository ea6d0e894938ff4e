package fixture

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/magodo/workerpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var fixtureExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

type checkResult struct {
	path string
	err  error
}

// CheckDir loads every fixture below dir and returns all load failures. It
// returns the number of fixtures checked.
func CheckDir(dir string) (int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && fixtureExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "unable to list fixtures in %s", dir)
	}
	sort.Strings(paths)

	var failures []checkResult
	n := 0
	wp := workerpool.NewWorkPool(runtime.NumCPU())
	wp.Run(func(res any) error {
		n += 1
		result := res.(checkResult)
		if result.err != nil {
			failures = append(failures, result)
		}
		log.Debugf("[%d/%d] checked %s", n, len(paths), result.path)
		return nil
	})
	for _, path := range paths {
		path := path
		wp.AddTask(func() (any, error) {
			_, err := Load(path)
			return checkResult{path: path, err: err}, nil
		})
	}
	if err := wp.Done(); err != nil {
		return n, err
	}

	sort.Slice(failures, func(a, b int) bool {
		return failures[a].path < failures[b].path
	})
	var result *multierror.Error
	for _, f := range failures {
		result = multierror.Append(result, f.err)
	}
	return len(paths), result.ErrorOrNil()
}
